package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/correlate"
)

// ResultSink hands completed work to the external persistence layer.
type ResultSink interface {
	PublishResult(res *analysis.Result) error
	PublishGroup(g *correlate.Group) error
}

// NATSPublisher pushes results and correlation groups onto NATS
// subjects. Transient publish failures retry with a short linear
// backoff before the result is surrendered to the caller's log.
type NATSPublisher struct {
	conn          *nats.Conn
	resultSubject string
	groupSubject  string
	maxRetries    int
}

func NewNATSPublisher(conn *nats.Conn, resultSubject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:          conn,
		resultSubject: resultSubject,
		groupSubject:  resultSubject + ".groups",
		maxRetries:    maxRetries,
	}
}

func (p *NATSPublisher) PublishResult(res *analysis.Result) error {
	return p.publish(p.resultSubject, res)
}

func (p *NATSPublisher) PublishGroup(g *correlate.Group) error {
	return p.publish(p.groupSubject, g)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", subject, p.maxRetries, err)
}
