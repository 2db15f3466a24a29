package fusion

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// ViewPublisher pushes built trip views onto NATS so API and websocket
// layers can fan them out without polling the engine.
type ViewPublisher struct {
	log  *log.Logger
	conn *nats.Conn
}

// NewViewPublisher connects to the NATS server at natsURL.
func NewViewPublisher(logger *log.Logger, natsURL string) (*ViewPublisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to nats at %s", natsURL)
	}
	logger.Printf("view publisher connected to %s", natsURL)
	return &ViewPublisher{log: logger, conn: conn}, nil
}

// publishedView is the wire envelope for one train's view.
type publishedView struct {
	Nucleus           string    `json:"nucleus"`
	TrainID           string    `json:"train_id,omitempty"`
	ServiceInstanceID string    `json:"service_instance_id,omitempty"`
	View              *TripView `json:"view"`
}

// PublishView sends the view on the per-nucleus subject.
func (p *ViewPublisher) PublishView(nucleus, trainID, serviceInstanceID string, view *TripView) error {
	payload, err := json.Marshal(publishedView{
		Nucleus:           nucleus,
		TrainID:           trainID,
		ServiceInstanceID: serviceInstanceID,
		View:              view,
	})
	if err != nil {
		return errors.Wrap(err, "marshaling trip view")
	}
	subject := fmt.Sprintf("train-views.%s", nucleus)
	if err := p.conn.Publish(subject, payload); err != nil {
		return errors.Wrapf(err, "publishing trip view to %s", subject)
	}
	return nil
}

// Close drains the connection.
func (p *ViewPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
