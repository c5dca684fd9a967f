// Package report composes the weekly summary: the insight findings as text
// plus a chart of where the week's time went.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/insight"
	"github.com/chris/shadow/internal/localtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChartWindow is the span the distribution chart covers.
const ChartWindow = 7 * 24 * time.Hour

const (
	noViolations = "No major integrity violations detected this week."
	noData       = "No data recorded this week."
)

// Store is what the composer reads.
type Store interface {
	insight.Store
	CategoryCounts(ctx context.Context, since time.Time) (map[category.Category]int, error)
}

// Renderer turns category counts into an image. It returns nil bytes when
// there is nothing to draw.
type Renderer interface {
	Render(counts map[category.Category]int) ([]byte, error)
}

// Transport delivers the finished report.
type Transport interface {
	DeliverMessage(ctx context.Context, chatID, text string) error
	DeliverImage(ctx context.Context, chatID, name string, image []byte, caption string) error
}

// Summary is a composed report.
type Summary struct {
	Neglect         insight.Neglect
	Avoidance       insight.Avoidance
	WorktimeLeisure insight.WorktimeLeisure
	Counts          map[category.Category]int
	Insights        []string
	Chart           []byte
}

// Text is the insight block, or the all-clear sentence when nothing fired.
func (s Summary) Text() string {
	if len(s.Insights) == 0 {
		return noViolations
	}
	return strings.Join(s.Insights, "\n")
}

// Caption is the message that accompanies the chart.
func (s Summary) Caption() string {
	return "**The Weekly Truth**\nHere is where your time actually went this week. Here's some insights: " + s.Text()
}

type Composer struct {
	store     Store
	renderer  Renderer
	transport Transport
	zone      localtime.Zone
	logger    *zap.Logger
	now       func() time.Time
}

func New(store Store, renderer Renderer, transport Transport, zone localtime.Zone, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		store:     store,
		renderer:  renderer,
		transport: transport,
		zone:      zone,
		logger:    logger,
		now:       time.Now,
	}
}

// Compose runs the detectors and renders the chart for the period ending now.
func (c *Composer) Compose(ctx context.Context, now time.Time) (Summary, error) {
	var s Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.Neglect, err = insight.DetectNeglect(gctx, c.store, now)
		return err
	})
	g.Go(func() error {
		var err error
		s.Avoidance, err = insight.DetectAvoidance(gctx, c.store, now)
		return err
	})
	g.Go(func() error {
		var err error
		s.WorktimeLeisure, err = insight.DetectWorktimeLeisure(gctx, c.store, c.zone, now)
		return err
	})
	g.Go(func() error {
		var err error
		s.Counts, err = c.store.CategoryCounts(gctx, now.Add(-ChartWindow))
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("composing summary: %w", err)
	}

	s.Insights = insights(s)
	if len(s.Counts) > 0 {
		chart, err := c.renderer.Render(s.Counts)
		if err != nil {
			return Summary{}, fmt.Errorf("rendering chart: %w", err)
		}
		s.Chart = chart
	}
	return s, nil
}

// insights orders findings as neglect, escalation, avoidance, worktime leisure.
func insights(s Summary) []string {
	var out []string
	if s.Neglect.Found() {
		details := make([]string, len(s.Neglect.Categories))
		for i, cat := range s.Neglect.Categories {
			details[i] = fmt.Sprintf("%s (%d/%d)", cat, s.Neglect.Weights[cat], category.MaxWeight)
		}
		out = append(out, fmt.Sprintf("High-priority categories neglected: %s.", strings.Join(details, ", ")))
		if s.Neglect.TopPriorityAbsent {
			out = append(out, "At least one top-priority commitment was fully absent.")
		}
	}
	if s.Avoidance.Flagged {
		out = append(out, "Repeated missed check-ins detected. Avoidance is becoming a pattern.")
	}
	if s.WorktimeLeisure.Flagged {
		out = append(out, "Leisure frequently logged during core work hours.")
	}
	return out
}

// SendWeekly composes the report for now and delivers it to the chat.
func (c *Composer) SendWeekly(ctx context.Context, chatID string) error {
	s, err := c.Compose(ctx, c.now())
	if err != nil {
		return err
	}
	if s.Chart == nil {
		return c.transport.DeliverMessage(ctx, chatID, noData)
	}
	if err := c.transport.DeliverImage(ctx, chatID, "week.png", s.Chart, s.Caption()); err != nil {
		return fmt.Errorf("delivering weekly summary: %w", err)
	}
	c.logger.Info("weekly summary delivered",
		zap.String("chat_id", chatID),
		zap.Int("insights", len(s.Insights)))
	return nil
}
