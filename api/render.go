package api

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"strconv"

	api_types "barter/api-types"

	"github.com/gin-gonic/gin"
)

const defaultJSONPCallback = "pyraCreditCallback"

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]{0,63}$`)

var creditTemplate = template.Must(template.New("credit.html").Parse(`{{if .Ok -}}
<div style="font-family: Arial, sans-serif; padding: 20px; background: #f0f8ff; border-radius: 10px; text-align: center;">
    <h2 style="color: #2c3e50;">PYRA's Barter Credit</h2>
    <div style="font-size: 2em; font-weight: bold; color: #27ae60;">${{.Value}}</div>
    <p style="color: #7f8c8d;">
        Based on {{.ValidCoins}} valid cryptocurrencies<br>
        Last updated: {{.Updated}}{{if .Stale}} (stale){{end}}
    </p>
</div>
{{- else -}}
<div style="font-family: Arial, sans-serif; padding: 20px; background: #ffe6e6; border-radius: 10px; text-align: center;">
    <h2 style="color: #e74c3c;">PYRA's Barter Credit - Error</h2>
    <p style="color: #c0392b;">{{.Error}}</p>
</div>
{{- end}}
`))

type creditView struct {
	Ok         bool
	Value      string
	ValidCoins string
	Updated    string
	Stale      bool
	Error      string
}

func newCreditView(c api_types.BarterCreditResponse) creditView {
	v := creditView{
		Ok:    c.Status == "success",
		Stale: c.Stale,
		Error: c.Error,
	}
	if v.Ok {
		v.Value = strconv.FormatFloat(c.Value, 'f', 6, 64)
		v.ValidCoins = commas(c.ValidCoinsUsed)
		v.Updated = c.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	if v.Error == "" {
		v.Error = "Unknown error occurred"
	}
	return v
}

func commas(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + commas(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// jsonp wraps the credit for <script> widgets. The callback name comes
// from ?callback= and is checked so it can't inject script.
func jsonp(c *gin.Context, body any) {
	callback := c.DefaultQuery("callback", defaultJSONPCallback)
	if !callbackPattern.MatchString(callback) {
		returnErrorJsonCode(fmt.Errorf("invalid callback name"), c, http.StatusBadRequest)
		return
	}
	b, err := json.Marshal(body)
	if err != nil {
		returnErrorJson(err, c)
		return
	}
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(fmt.Sprintf("%s(%s);", callback, b)))
}

const embedScript = `(function() {
    // PYRA Barter Credit embed. Usage: <div class="pyra-barter-credit"></div>
    var base = %q;
    function render(el, data) {
        if (data.status === 'success') {
            el.innerHTML = '<div style="font-family: Arial, sans-serif; padding: 15px; background: linear-gradient(45deg, #667eea, #764ba2); color: white; border-radius: 8px; text-align: center;">' +
                '<h3 style="margin: 0 0 10px 0;">PYRA Barter Credit</h3>' +
                '<div style="font-size: 1.8em; font-weight: bold;">$' + data.value.toFixed(6) + '</div>' +
                '<small style="opacity: 0.8;">Updated: ' + new Date(data.timestamp).toLocaleTimeString() + '</small></div>';
        } else {
            el.innerHTML = '<div style="color: red;">Error loading PYRA Barter Credit</div>';
        }
    }
    function loadPyraCredit() {
        fetch(base + '/api/barter-credit')
            .then(function(r) { return r.json(); })
            .then(function(data) {
                document.querySelectorAll('.pyra-barter-credit').forEach(function(el) { render(el, data); });
            })
            .catch(function() {
                document.querySelectorAll('.pyra-barter-credit').forEach(function(el) {
                    el.innerHTML = '<div style="color: red;">Failed to load PYRA Barter Credit</div>';
                });
            });
    }
    loadPyraCredit();
    setInterval(loadPyraCredit, 300000);
    window.updatePyraCredit = loadPyraCredit;
})();
`

func embedJS(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(fmt.Sprintf(embedScript, base)))
}
