package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
)

// Opener opens a URL in a new foreground instance.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// BrowserOpener hands URLs to the desktop's default handler.
type BrowserOpener struct{}

var execCommand = exec.CommandContext

func (BrowserOpener) Open(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = execCommand(ctx, "open", url)
	case "windows":
		cmd = execCommand(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = execCommand(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	go cmd.Wait()
	return nil
}

// RecordingOpener remembers opened URLs.
type RecordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (r *RecordingOpener) Open(ctx context.Context, url string) error {
	r.mu.Lock()
	r.urls = append(r.urls, url)
	r.mu.Unlock()
	return nil
}

// URLs returns the opened URLs in order.
func (r *RecordingOpener) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}
