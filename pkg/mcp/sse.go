package mcp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// decodeSSE extracts the JSON payload from a Server-Sent-Events body. MCP
// servers that stream frame the response as one or more `event: message`
// blocks whose data lines carry the JSON-RPC response; multi-line data is
// concatenated per the SSE spec. The last complete message wins, matching
// servers that send progress frames before the result.
func decodeSSE(body io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)

	var (
		current []string
		last    string
	)
	flush := func() {
		if len(current) > 0 {
			last = strings.Join(current, "\n")
			current = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			current = append(current, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"),
			strings.HasPrefix(line, "retry:"), strings.HasPrefix(line, ":"):
			// field lines other than data carry no payload
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	flush()

	if last == "" {
		return nil, fmt.Errorf("sse stream contained no data frames")
	}
	return []byte(last), nil
}
