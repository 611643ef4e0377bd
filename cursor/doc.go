// Package cursor is the Cursor Agent backend family.
//
// Cursor operates in one-shot mode only: there is no interactive stdin
// conversation and no control protocol, so every turn spawns
//
//	agent chat -p <prompt> --output-format stream-json [--resume <chat id>]
//
// and the process exits after its result line. Tool permissions are fixed
// at spawn time with --force. The CLI reports no token usage.
//
// A session is driven through the session package:
//
//	s := session.New(cursor.New(), session.WithWorkDir("/path/to/project"))
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Destroy()
//	_ = s.Send(ctx, "What is 2+2?")
//	for env := range s.Events() {
//	    if td, ok := env.Event.(agentstream.TextDelta); ok {
//	        fmt.Print(td.Text)
//	    }
//	}
package cursor
