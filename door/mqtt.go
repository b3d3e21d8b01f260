package door

import (
	"fmt"
	"strings"
	"time"

	"PassengerCounter/session"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var mqttWait = 5 * time.Second

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Field    string
}

// MQTTSource feeds the door state from a broker topic, for buses whose door
// controller publishes over MQTT instead of writing the remote record.
type MQTTSource struct {
	cfg    MQTTConfig
	door   *session.Door
	log    *zap.Logger
	client mqtt.Client
}

func NewMQTTSource(cfg MQTTConfig, door *session.Door, log *zap.Logger) *MQTTSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSource{cfg: cfg, door: door, log: log}
}

// Start connects and subscribes. The subscription is renewed on every
// reconnect. A broker that is not up yet is not an error: the client keeps
// retrying in the background and the door keeps its current state.
func (s *MQTTSource) Start() error {
	if s.cfg.Broker == "" || s.cfg.Topic == "" {
		return errors.New("mqtt broker and topic are required")
	}
	broker := s.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		s.log.Info("mqtt connected", zap.String("broker", s.cfg.Broker))
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
		if token.WaitTimeout(mqttWait) && token.Error() != nil {
			s.log.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.log.Warn("mqtt connection lost, reconnecting", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(mqttWait) {
		s.log.Warn("mqtt broker not reachable yet, retrying in background", zap.String("broker", s.cfg.Broker))
		return nil
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "can't connect to %s", s.cfg.Broker)
	}
	return nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	open, ok := ParsePayload(msg.Payload(), s.cfg.Field)
	if !ok {
		s.log.Warn("malformed door payload ignored",
			zap.String("topic", msg.Topic()), zap.ByteString("data", msg.Payload()))
		return
	}
	if s.door.Set(open) {
		s.log.Info("door signal", zap.Bool("open", open), zap.String("topic", msg.Topic()))
	}
}

// Stop also cancels a connect that is still being retried.
func (s *MQTTSource) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(mqttWait)
	}
	s.client.Disconnect(250)
}
