// Package sse decodes text/event-stream bodies into discrete events.
//
// A Reader consumes "event:" and "data:" lines and yields one Event per
// blank-line terminated block. Multiple data lines are joined with "\n".
// Comment lines (starting with ":") and "retry:" lines are ignored, "id:"
// lines are recorded on the event. A single space after the field colon is
// stripped, matching what servers usually emit.
//
//	r := sse.NewReader(resp.Body)
//	for {
//	    ev, err := r.Next()
//	    if err != nil {
//	        break // io.EOF at a clean end of stream
//	    }
//	    handle(ev.Name, ev.Data)
//	}
package sse
