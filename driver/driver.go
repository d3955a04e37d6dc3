// Package driver defines the narrow browser-automation interface the core
// depends on, plus a chromedp-backed implementation. The pool and executor
// treat any driver failure as session-unhealthy.
package driver

import (
	"context"
	"time"
)

// Box is an element's position and size on the rendered page.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageElement is one interactive element captured from the page.
type PageElement struct {
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	Type        string `json:"type,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Title       string `json:"title,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Href        string `json:"href,omitempty"`
	Selector    string `json:"selector"`
	Box         Box    `json:"box"`
}

// PageStructure is a compact structural snapshot of the current page:
// interactive elements sorted top-to-bottom, left-to-right.
type PageStructure struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Elements []PageElement `json:"elements"`
}

// Screenshot is a rendered frame of the current page.
type Screenshot struct {
	Data    []byte    `json:"data"`
	URL     string    `json:"url"`
	TakenAt time.Time `json:"taken_at"`
}

// Page is an owned handle to one live browser context. All methods may fail
// with a driver error; callers decide what that means for session health.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Extract reads content from the element: dataType is text, html, or value.
	Extract(ctx context.Context, selector, dataType string) (string, error)
	CaptureStructure(ctx context.Context) (*PageStructure, error)
	CaptureImage(ctx context.Context) (*Screenshot, error)
	// MarkElements overlays numbered set-of-marks markers on up to max
	// interactive elements and returns them in marker order.
	MarkElements(ctx context.Context, max int) ([]PageElement, error)
	// ClearMarks removes previously injected markers.
	ClearMarks(ctx context.Context) error
	Close() error
}

// Driver opens browser pages. One Driver typically wraps one browser
// process allocator; the pool calls OpenPage per session.
type Driver interface {
	OpenPage(ctx context.Context) (Page, error)
	Close() error
}
