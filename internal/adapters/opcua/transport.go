// Package opcua exposes boolean OPC UA nodes as a logic analyzer: each node
// is one channel, sampled at the requested rate from the last value the
// server published.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/oxyum/sigrok/internal/ports"
)

const (
	Name     = "opcua"
	Identity = "opcua:digital"
)

type Transport struct {
	cfg Config
	obs ports.Observability
}

func NewTransport(cfg Config, obs ports.Observability) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg, obs: obs}, nil
}

func (t *Transport) Name() string { return Name }

// Enumerate asks the server for its endpoints. A reachable server is one
// device.
func (t *Transport) Enumerate(ctx context.Context) ([]ports.RawDevice, error) {
	eps, err := opcua.GetEndpoints(ctx, t.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("opcua get endpoints: %w", err)
	}
	if len(eps) == 0 {
		return nil, nil
	}
	label := t.cfg.Endpoint
	if app := eps[0].Server; app != nil && app.ApplicationName != nil && app.ApplicationName.Text != "" {
		label = app.ApplicationName.Text
	}
	return []ports.RawDevice{{
		Identity: Identity,
		Address:  t.cfg.Endpoint,
		Label:    label,
		Channels: len(t.cfg.Channels),
	}}, nil
}

func (t *Transport) Open(ctx context.Context, dev ports.RawDevice, req ports.AcquisitionRequest) (ports.Connection, error) {
	if req.SampleRate == 0 {
		return nil, errors.New("opcua: sample rate is required")
	}
	clientOpts := t.buildClientOptions()
	client, err := opcua.NewClient(t.cfg.Endpoint, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := connect(ctx, client); err != nil {
		return nil, err
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(t.cfg.Channels)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: t.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	for i, ch := range t.cfg.Channels {
		nodeID, err := ua.ParseNodeID(ch.NodeID)
		if err != nil {
			cleanup(ctx, sub, client)
			return nil, fmt.Errorf("parse node id %q: %w", ch.NodeID, err)
		}
		mreq := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, uint32(i+1))
		if t.cfg.SamplingInterval > 0 {
			mreq.RequestedParameters.SamplingInterval = float64(t.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, mreq)
		if err != nil {
			cleanup(ctx, sub, client)
			return nil, fmt.Errorf("monitor node %q: %w", ch.NodeID, err)
		}
		if len(res.Results) == 0 {
			cleanup(ctx, sub, client)
			return nil, fmt.Errorf("monitor node %q failed: empty result", ch.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			cleanup(ctx, sub, client)
			return nil, fmt.Errorf("monitor node %q failed: %s", ch.NodeID, res.Results[0].StatusCode)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		client:  client,
		sub:     sub,
		cancel:  cancel,
		obs:     t.obs,
		sampler: newSampler(len(t.cfg.Channels), req.SampleRate, req.SampleLimit, time.Now),
	}
	c.wg.Add(1)
	go c.consume(runCtx, notifyCh)
	return c, nil
}

func (t *Transport) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(t.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(t.cfg.SecurityPolicy)),
		opcua.ApplicationName(t.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if t.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(t.cfg.Username, t.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

type connector interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// connect closes the client again when the connection attempt fails.
func connect(ctx context.Context, c connector) error {
	if err := c.Connect(ctx); err != nil {
		_ = c.Close(ctx)
		return fmt.Errorf("opcua connect: %w", err)
	}
	return nil
}

func cleanup(ctx context.Context, sub *opcua.Subscription, client *opcua.Client) {
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

type conn struct {
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	obs     ports.Observability
	sampler *sampler
	once    sync.Once
	err     error
}

func (c *conn) ReadChunk(ctx context.Context) ([]byte, error) {
	return c.sampler.next(ctx)
}

func (c *conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e := c.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			c.err = errors.Join(c.err, e)
		}
		if e := c.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			c.err = errors.Join(c.err, e)
		}
		c.wg.Wait()
	})
	return c.err
}

func (c *conn) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				// a broken subscription ends the capture
				c.sampler.fail(notif.Error)
				return
			}
			c.apply(notif.Value)
		}
	}
}

func (c *conn) apply(val any) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	for _, item := range data.MonitoredItems {
		if item.Value == nil {
			continue
		}
		v, ok := variantToBool(item.Value.Value)
		if !ok {
			if c.obs != nil {
				c.obs.LogError("opcua_unsupported_value", fmt.Errorf("channel %d has a non-numeric value", item.ClientHandle-1))
			}
			continue
		}
		c.sampler.set(int(item.ClientHandle)-1, v)
	}
}

// variantToBool reads booleans directly and treats numbers as high when
// non-zero.
func variantToBool(v *ua.Variant) (bool, bool) {
	if v == nil {
		return false, false
	}
	switch val := v.Value().(type) {
	case bool:
		return val, true
	case float32:
		return val != 0, true
	case float64:
		return val != 0, true
	case int8:
		return val != 0, true
	case uint8:
		return val != 0, true
	case int16:
		return val != 0, true
	case uint16:
		return val != 0, true
	case int32:
		return val != 0, true
	case uint32:
		return val != 0, true
	case int64:
		return val != 0, true
	case uint64:
		return val != 0, true
	default:
		return false, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Transport = (*Transport)(nil)
