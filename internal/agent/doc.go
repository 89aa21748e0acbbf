// Package agent wires the SDK pieces into one handle a process owns.
//
// An Agent holds the Message Router, the Connection Manager bound to it and,
// when enabled, the frame journal. Feature code talks to the host through
// Send, Request and Subscribe; everything else is internal.
//
//	a, err := agent.New(cfg, logger)
//	if err != nil { ... }
//	if err := a.Start(ctx); err != nil { ... }
//	defer a.Shutdown(context.Background())
//
//	resp, err := a.Request(ctx, map[string]any{"type": "getVector"}, "getVectorResponse")
package agent
