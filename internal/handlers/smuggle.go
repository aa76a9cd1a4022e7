package handlers

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"html/template"
	"math"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"go.uber.org/zap"
)

const (
	smugglePrefix   = "smuggle_"
	passwordLength  = 7
	passwordSymbols = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// SmuggleResult is the body of a SMUGGLE response.
type SmuggleResult struct {
	URL       string `json:"url"`
	File      string `json:"file"`
	Encrypted bool   `json:"encrypted"`
}

// smugglePages tracks generated download pages. Each page is removed from
// disk after it has been served once.
type smugglePages struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newSmugglePages() *smugglePages {
	return &smugglePages{paths: make(map[string]struct{})}
}

func (s *smugglePages) add(path string) {
	s.mu.Lock()
	s.paths[path] = struct{}{}
	s.mu.Unlock()
}

// take reports whether path is a pending page and forgets it.
func (s *smugglePages) take(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[path]; !ok {
		return false
	}
	delete(s.paths, path)
	return true
}

// removeStalePages deletes download pages left over from a previous run.
func removeStalePages(uploadDir string) int {
	matches, err := filepath.Glob(filepath.Join(uploadDir, smugglePrefix+"*.html"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			removed++
		}
	}
	if removed > 0 {
		logging.Info("Removed stale download pages", zap.Int("count", removed))
	}
	return removed
}

// Smuggle wraps a stored file in a self-contained HTML page that rebuilds
// the file in the browser and starts the download. With ?encrypt=1 the
// payload is XORed with SHA-256 of a generated password, which the page
// shows only as a distorted SVG image.
//
// The page is written to the upload directory and deleted after its first
// GET.
func (h *Handlers) Smuggle(req *wire.Request) (*wire.Response, error) {
	encrypt := req.Query["encrypt"] == "1"

	p, err := h.storagePath(req.Path)
	var info os.FileInfo
	if err == nil && !isHidden(req.Path) {
		info, err = os.Stat(p)
	}
	if err != nil || info == nil || info.IsDir() {
		return jsonResponse(404, map[string]string{"error": "File not found", "path": req.Path})
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	var password string
	if encrypt {
		password = generatePagePassword()
	}
	page, err := renderSmugglePage(data, filepath.Base(p), password)
	if err != nil {
		return nil, err
	}

	name := smugglePrefix + randomHex(8) + ".html"
	pagePath := filepath.Join(h.uploadDir, name)
	if err := os.WriteFile(pagePath, page, 0o600); err != nil {
		return nil, fmt.Errorf("write download page: %w", err)
	}
	h.pages.add(pagePath)

	logging.Debug("Download page generated",
		zap.String("file", filepath.Base(p)),
		zap.Bool("encrypted", encrypt),
	)

	url := "/" + UploadDirName + "/" + name
	resp, err := jsonResponse(200, SmuggleResult{URL: url, File: filepath.Base(p), Encrypted: encrypt})
	if err != nil {
		return nil, err
	}
	resp.SetHeader("X-Smuggle-URL", url)
	return resp, nil
}

// servePage answers a GET for a generated page from memory and deletes it.
func (h *Handlers) servePage(path string) (*wire.Response, bool) {
	if !h.pages.take(path) {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if err := os.Remove(path); err != nil {
		logging.Warn("Failed to remove download page", zap.String("path", path), zap.Error(err))
	}

	resp := wire.NewResponse(200)
	resp.SetBody(data, "text/html; charset=utf-8")
	resp.SetHeader("Content-Security-Policy", htmlCSP)
	return resp, true
}

func generatePagePassword() string {
	b := make([]byte, passwordLength)
	if _, err := rand.Read(b); err != nil {
		logging.Error("crypto/rand failed", zap.Error(err))
	}
	out := make([]byte, passwordLength)
	for i, v := range b {
		out[i] = passwordSymbols[int(v)%len(passwordSymbols)]
	}
	return string(out)
}

// xorWithPassword XORs data with the 32-byte SHA-256 digest of password,
// matching the decoder embedded in the page.
func xorWithPassword(data []byte, password string) []byte {
	key := sha256.Sum256([]byte(password))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

type smugglePage struct {
	Filename string
	Data     template.JSStr
	Captcha  template.URL
}

func renderSmugglePage(data []byte, filename, password string) ([]byte, error) {
	tmpl := plainPageTemplate
	if password != "" {
		tmpl = protectedPageTemplate
		data = xorWithPassword(data, password)
	}
	page := smugglePage{
		Filename: filename,
		// Base64 output has no quote or backslash characters.
		Data: template.JSStr(base64.StdEncoding.EncodeToString(data)),
	}
	if password != "" {
		page.Captcha = template.URL(passwordImage(password))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("render download page: %w", err)
	}
	return buf.Bytes(), nil
}

// passwordImage draws password as a noisy SVG and returns it as a data URI.
func passwordImage(password string) string {
	const width, height = 280, 80
	rng := newPageRand()
	pick := func(choices ...string) string { return choices[rng.IntN(len(choices))] }
	between := func(lo, hi int) int { return lo + rng.IntN(hi-lo+1) }
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, width, height, width, height)
	b.WriteString(`<rect width="100%" height="100%" fill="#0d1117"/>`)

	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="%.1f"/>`,
			between(0, width), between(0, height), between(0, width), between(0, height),
			pick("#30363d", "#21262d", "#161b22"), uniform(1, 3))
	}
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%.1f" fill="%s"/>`,
			between(0, width), between(0, height), uniform(1, 3), pick("#30363d", "#21262d", "#3d4450"))
	}

	charWidth := float64(width-40) / float64(len(password))
	for i, ch := range password {
		x := 20 + float64(i)*charWidth + charWidth/2 + float64(between(-3, 3))
		y := float64(height)/2 + float64(between(-8, 8))
		size := between(24, 32)
		fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" font-family="Consolas, Monaco, monospace" font-size="%d" font-weight="bold" fill="%s" text-anchor="middle" transform="rotate(%d, %.1f, %.1f)">%s</text>`,
			x, y+float64(size)/3, size,
			pick("#00d4ff", "#7b2cbf", "#4ade80", "#facc15", "#fb7185", "#f97316", "#a78bfa"),
			between(-15, 15), x, y, template.HTMLEscapeString(string(ch)))
	}

	for i := 0; i < 3; i++ {
		base := float64(between(20, height-20))
		amplitude := float64(between(5, 15))
		freq := uniform(0.02, 0.05)
		phase := uniform(0, 2*math.Pi)
		points := make([]string, 0, width/5)
		for x := 0; x < width; x += 5 {
			points = append(points, fmt.Sprintf("%d,%.1f", x, base+amplitude*math.Sin(freq*float64(x)+phase)))
		}
		fmt.Fprintf(&b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`,
			strings.Join(points, " "), pick("#30363d", "#21262d", "#2d333b"))
	}
	b.WriteString(`</svg>`)

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(b.String()))
}

// newPageRand returns a generator seeded from crypto/rand, so the image
// noise cannot be replayed.
func newPageRand() *mrand.Rand {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		logging.Error("crypto/rand failed", zap.Error(err))
	}
	return mrand.New(mrand.NewChaCha8(seed))
}

const pageStyle = `body{font-family:Arial,sans-serif;max-width:600px;margin:50px auto;padding:20px;text-align:center;background:#1a1a2e;color:#eee}
h2,h3{color:#00d4ff}
.status,.msg{color:#888;margin:20px 0;font-size:14px}
input{width:100%;padding:12px;margin:10px 0;border:1px solid #30363d;border-radius:8px;box-sizing:border-box;background:#0d1117;color:#fff;font-size:1rem}
button{width:100%;padding:12px;background:#00d4ff;color:#000;border:none;border-radius:8px;cursor:pointer;font-size:1rem;font-weight:bold}
.err{color:#f87171}
.ok{color:#4ade80}
.captcha{background:#0d1117;border:1px solid #30363d;border-radius:8px;padding:15px;margin:15px 0}
.captcha img{max-width:100%;height:auto;user-select:none}`

const saveScript = `function save(bytes){
var blob=new Blob([bytes],{type:"application/octet-stream"});
var url=URL.createObjectURL(blob);
var a=document.createElement("a");
a.href=url;a.download=fn;
document.body.appendChild(a);a.click();document.body.removeChild(a);
URL.revokeObjectURL(url);
}
function decode(s){var b=atob(s);var a=new Uint8Array(b.length);for(var i=0;i<b.length;i++)a[i]=b.charCodeAt(i);return a}`

var plainPageTemplate = template.Must(template.New("plain").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Download</title>
<style>` + pageStyle + `</style>
</head>
<body>
<h2>Downloading...</h2>
<div class="status" id="s">Preparing file...</div>
<script>
var fn={{.Filename}};
var data="{{.Data}}";
` + saveScript + `
setTimeout(function(){
try{save(decode(data));document.getElementById("s").textContent="Done! File: "+fn}
catch(e){document.getElementById("s").textContent="Error: "+e.message}
},500);
</script>
</body>
</html>`))

var protectedPageTemplate = template.Must(template.New("protected").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Protected Download</title>
<style>` + pageStyle + `</style>
</head>
<body>
<h3>Protected File</h3>
<div class="captcha"><img src="{{.Captcha}}" alt="Password" draggable="false"></div>
<input type="password" id="p" placeholder="Password" autofocus>
<button id="go">Download</button>
<div class="msg" id="m"></div>
<script>
var fn={{.Filename}};
var data="{{.Data}}";
` + saveScript + `
function msg(t,c){var m=document.getElementById("m");m.textContent=t;m.className="msg "+c}
function run(){
var pw=document.getElementById("p").value;
if(!pw){msg("Enter password","err");return}
if(!window.crypto||!crypto.subtle){msg("Decryption needs HTTPS or localhost","err");return}
crypto.subtle.digest("SHA-256",new TextEncoder().encode(pw)).then(function(h){
var key=new Uint8Array(h);var enc=decode(data);
for(var i=0;i<enc.length;i++)enc[i]^=key[i%key.length];
save(enc);msg("Downloaded: "+fn,"ok");
}).catch(function(e){msg("Error: "+e.message,"err")});
}
document.getElementById("go").addEventListener("click",run);
document.getElementById("p").addEventListener("keypress",function(e){if(e.key==="Enter")run()});
</script>
</body>
</html>`))
