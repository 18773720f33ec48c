package events

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"
)

type Config struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// conn 抽出来方便测试替换
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

type NatsPublisher struct {
	nc     conn
	prefix string
}

func NewNatsPublisher(c Config, opts ...nats.Option) (*NatsPublisher, error) {
	nc, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, err
	}
	return newNatsPublisher(nc, c.SubjectPrefix), nil
}

func newNatsPublisher(nc conn, prefix string) *NatsPublisher {
	if prefix == "" {
		prefix = "lunorise"
	}
	return &NatsPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject deposit.confirmed -> lunorise.deposit.confirmed
func (p *NatsPublisher) Subject(typ string) string {
	return p.prefix + "." + typ
}

func (p *NatsPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev.Type), b)
}

func (p *NatsPublisher) Close() error {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
	return nil
}
