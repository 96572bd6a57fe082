package upstream

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"

	"go.uber.org/zap"
)

// dumpBodyLimit caps how much of a body is echoed; image payloads are
// base64 blobs of several megabytes.
const dumpBodyLimit = 8 << 10

// debugOut is a variable so tests can capture dumps.
var debugOut io.Writer = os.Stderr

func (c *Client) dumpRequest(req *http.Request, body []byte) {
	if c == nil || !c.debug || req == nil {
		return
	}
	head, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		c.log.Error("upstream.request.dump.failed", zap.Error(err))
		return
	}
	c.writeDumpBlock(fmt.Sprintf("UPSTREAM REQUEST %s %s", req.Method, req.URL.Path), head, body)
}

func (c *Client) dumpResponse(resp *http.Response, body []byte) {
	if c == nil || !c.debug || resp == nil {
		return
	}
	head, err := httputil.DumpResponse(resp, false)
	if err != nil {
		c.log.Error("upstream.response.dump.failed", zap.Error(err))
		return
	}
	c.writeDumpBlock(fmt.Sprintf("UPSTREAM RESPONSE status=%d", resp.StatusCode), head, body)
}

func (c *Client) writeDumpBlock(title string, head, body []byte) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	var b strings.Builder
	b.WriteString("===== " + title + " BEGIN =====\n")
	b.Write(head)
	if len(body) > 0 {
		if isBinary(body) {
			fmt.Fprintf(&b, "<%d bytes binary>", len(body))
		} else if len(body) > dumpBodyLimit {
			b.Write(body[:dumpBodyLimit])
			fmt.Fprintf(&b, "... (%d bytes truncated)", len(body)-dumpBodyLimit)
		} else {
			b.Write(body)
		}
		b.WriteByte('\n')
	}
	b.WriteString("===== " + title + " END =====\n")
	if _, err := io.WriteString(debugOut, b.String()); err != nil {
		c.log.Error("upstream.dump.write.failed", zap.String("title", title), zap.Error(err))
	}
}

func isBinary(body []byte) bool {
	n := len(body)
	if n > 512 {
		n = 512
	}
	for _, b := range body[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
