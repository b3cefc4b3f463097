package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	subjectGlobal     = "show.events.global"
	subjectRoomPrefix = "show.events.room."
)

// NATSRelay mirrors every authoritative broadcast onto NATS subjects so
// external consumers (analytics, replica gateways) can subscribe without
// holding a websocket to this process. Publish failures are logged and
// dropped; the relay never blocks the client-facing broadcast path.
type NATSRelay struct {
	nc *nats.Conn
}

// NewNATSRelay connects to the NATS server at url.
func NewNATSRelay(url string) (*NATSRelay, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSRelay{nc: nc}, nil
}

func (r *NATSRelay) MirrorGlobal(ev *Event) {
	r.publish(subjectGlobal, ev)
}

func (r *NATSRelay) MirrorToShow(showID uuid.UUID, ev *Event) {
	r.publish(subjectRoomPrefix+showID.String(), ev)
}

func (r *NATSRelay) publish(subject string, ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event for relay")
		return
	}
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to relay event")
	}
}

// Close drains the NATS connection.
func (r *NATSRelay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
