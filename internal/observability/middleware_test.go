package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

func TestRequestLoggerReportsTaggedLinks(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.POST("/send", func(c *gin.Context) {
		TagRequest(c, "kbalance", []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
		c.Status(http.StatusOK)
	})
	r.GET("/links", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/send", nil))
	var entry struct {
		Level   string   `json:"level"`
		Message string   `json:"message"`
		Path    string   `json:"path"`
		Command string   `json:"command"`
		Links   []string `json:"links"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry.Level != "info" || entry.Message != "control_request" || entry.Path != "/send" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Command != "kbalance" || !reflect.DeepEqual(entry.Links, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}) {
		t.Fatalf("request tags missing: %+v", entry)
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/links", nil))
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"debug"`)) || bytes.Contains(buf.Bytes(), []byte(`"links"`)) {
		t.Fatalf("read request logged unexpectedly: %s", buf.String())
	}
}
