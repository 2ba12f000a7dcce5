// Package client provides a Go SDK for the task dispatch engine's HTTP API:
// typed methods over net/http for task submission, worker polling, and a
// WebSocket client for real-time event streaming.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t, err := c.SubmitTask(ctx, client.CreateTaskRequest{
//	    ProblemID: "chaos-101",
//	})
//
// # WebSocket Events
//
//	err := c.ConnectWebSocket(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("Event: %s\n", event.Type)
//	}
//
// # Configuration
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30 * time.Second),
//	)
package client
