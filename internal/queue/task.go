package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"basegraph.app/materializer/internal/model"
)

// ResolveDiscriminant is shared by every resolution job so that any number of
// requests collapse into one queued job.
const ResolveDiscriminant = "resolve-upstreams"

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Payload is implemented by one struct per topic. Handlers only ever see these
// typed values; JSON exists only between Encode and Decode.
type Payload interface {
	Topic() model.Topic
	Discriminant() *string
}

type MaterializePayload struct {
	ResourceType model.ResourceType `json:"resource_type" jsonschema:"required"`
	UpstreamID   string             `json:"upstream_id" jsonschema:"required"`
}

func (MaterializePayload) Topic() model.Topic { return model.TopicMaterialize }

func (p MaterializePayload) Discriminant() *string {
	d := MaterializeDiscriminant(p.ResourceType, p.UpstreamID)
	return &d
}

// MaterializeDiscriminant is "<resourceType>:<upstreamId>".
func MaterializeDiscriminant(resourceType model.ResourceType, upstreamID string) string {
	return string(resourceType) + ":" + upstreamID
}

type ResolvePayload struct{}

func (ResolvePayload) Topic() model.Topic { return model.TopicResolve }

func (ResolvePayload) Discriminant() *string {
	d := ResolveDiscriminant
	return &d
}

// Encode turns a payload into a row ready for the job store.
func Encode(p Payload, priority int32) (model.NewJob, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return model.NewJob{}, fmt.Errorf("encoding %s payload: %w", p.Topic(), err)
	}
	return model.NewJob{
		Topic:        p.Topic(),
		Discriminant: p.Discriminant(),
		Priority:     priority,
		Payload:      raw,
	}, nil
}

// Decode parses a stored payload into the struct registered for topic.
func Decode(topic model.Topic, raw json.RawMessage) (Payload, error) {
	switch topic {
	case model.TopicMaterialize:
		var p MaterializePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.ResourceType == "" || p.UpstreamID == "" {
			return nil, fmt.Errorf("%w: resource_type and upstream_id are required", ErrInvalidPayload)
		}
		return p, nil
	case model.TopicResolve:
		return ResolvePayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

// ParseTopics validates configured topic names.
func ParseTopics(names []string) ([]model.Topic, error) {
	topics := make([]model.Topic, 0, len(names))
	for _, name := range names {
		t := model.Topic(name)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// Schema reflects the JSON schema of the payload stored for topic.
func Schema(topic model.Topic) (*jsonschema.Schema, error) {
	var prototype Payload
	switch topic {
	case model.TopicMaterialize:
		prototype = &MaterializePayload{}
	case model.TopicResolve:
		prototype = &ResolvePayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	r := &jsonschema.Reflector{ExpandedStruct: true}
	return r.Reflect(prototype), nil
}
