package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/buildbridge/internal/config"
	"github.com/nugget/buildbridge/internal/dispatch"
)

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and relays dispatcher events as sensor state
// updates. It subscribes to the dispatcher by submitting a ListenToEvents
// request through the same RequestQueue every other client uses.
type Publisher struct {
	cfg        config.TelemetryConfig
	instanceID string
	device     DeviceInfo
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	mu          sync.Mutex
	lastStatus  string
	lastCommand uint64
	queueDepth  atomic.Int64
}

// New creates a Publisher but does not connect. Call [Publisher.Run] to
// begin the connection and event relay loop. A nil logger is replaced
// with [slog.Default].
func New(cfg config.TelemetryConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		logger:     logger,
		lastStatus: "idle",
	}
}

// NoteQueueDepth records the Work Queue's current depth for the next
// periodic state publish. Intended to be wired as WorkQueue's onChange
// callback. Safe for concurrent use.
func (p *Publisher) NoteQueueDepth(depth int) {
	p.queueDepth.Store(int64(depth))
}

// Run connects to the MQTT broker, subscribes to the dispatcher's event
// stream via requests, and relays events as sensor state until ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context, requests *dispatch.RequestQueue) error {
	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("telemetry connected to broker", "broker", p.cfg.BrokerURL)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			p.publishDiscovery(publishCtx, cm)
			p.publishAvailability(publishCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("telemetry connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("telemetry connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("telemetry initial connection timed out, will retry in background", "error", err)
	}

	client := dispatch.NewClient(p.clientID(), 64, func(c *dispatch.Client) {
		p.logger.Warn("telemetry event client is slow, events may be dropped", "client", c.ID())
	})
	if err := requests.Enqueue(dispatch.ServerRequest{Client: client, Request: dispatch.ListenToEvents{}}); err != nil {
		return fmt.Errorf("subscribe telemetry client to events: %w", err)
	}

	p.relayEvents(ctx, client)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) clientID() string {
	n := len(p.instanceID)
	if n > 8 {
		n = 8
	}
	return "buildbridge-" + p.instanceID[:n]
}

func (p *Publisher) relayEvents(ctx context.Context, client *dispatch.Client) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			p.handleEvent(ctx, ev)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) handleEvent(ctx context.Context, ev dispatch.Event) {
	p.mu.Lock()
	switch e := ev.(type) {
	case dispatch.BuildLoaded:
		p.lastStatus = "loaded"
	case dispatch.ExecutionSuccess:
		p.lastStatus = "success"
		p.lastCommand = e.ID
	case dispatch.ExecutionFailure:
		p.lastStatus = "failure"
		p.lastCommand = e.ID
	case dispatch.WorkQueueChanged:
		p.queueDepth.Store(int64(e.Depth))
	}
	p.mu.Unlock()
	p.publishStates(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "buildbridge/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	return []sensorDef{
		{
			entitySuffix: "status",
			config: SensorConfig{
				Name:              "Build Status",
				ObjectID:          "status",
				HasEntityName:     true,
				UniqueID:          p.instanceID + "_status",
				StateTopic:        p.stateTopic("status"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:hammer-wrench",
			},
		},
		{
			entitySuffix: "last_command",
			config: SensorConfig{
				Name:              "Last Command ID",
				ObjectID:          "last_command",
				HasEntityName:     true,
				UniqueID:          p.instanceID + "_last_command",
				StateTopic:        p.stateTopic("last_command"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:identifier",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entitySuffix: "queue_depth",
			config: SensorConfig{
				Name:              "Work Queue Depth",
				ObjectID:          "queue_depth",
				HasEntityName:     true,
				UniqueID:          p.instanceID + "_queue_depth",
				StateTopic:        p.stateTopic("queue_depth"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:format-list-numbered",
				StateClass:        "measurement",
				UnitOfMeasurement: "items",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("telemetry marshal discovery payload", "entity", s.entitySuffix, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("telemetry discovery publish failed", "entity", s.entitySuffix, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("telemetry availability publish failed", "status", status, "error", err)
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	p.mu.Lock()
	status := p.lastStatus
	lastCommand := p.lastCommand
	p.mu.Unlock()

	states := map[string]string{
		"status":       status,
		"last_command": fmt.Sprintf("%d", lastCommand),
		"queue_depth":  fmt.Sprintf("%d", p.queueDepth.Load()),
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("telemetry state publish failed", "entity", entity, "error", err)
		}
	}
}
