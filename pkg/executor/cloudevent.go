package executor

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

const (
	eventTypeBuildSubmit = "dev.conveyor.build.submit"
	eventTypeBuildCancel = "dev.conveyor.build.cancel"
	eventTypeBuildResult = "dev.conveyor.build.result"
)

// buildSubmitPayload is the data sent to a remote executor to launch a
// build; buildResultPayload is what it sends back on completion.
type buildSubmitPayload struct {
	BuildUUID  string   `json:"build_uuid"`
	JobName    string   `json:"job_name"`
	NodeLabels []string `json:"node_labels"`
	Timeout    int64    `json:"timeout_seconds"`
}

type buildResultPayload struct {
	BuildUUID string `json:"build_uuid"`
	Result    string `json:"result"`
	Started   bool   `json:"started"`
}

// CloudEventDispatcher submits builds as CloudEvents to an executor
// fleet's ingress endpoint and expects result events delivered back to
// a Receiver (spec §4.4, §6: executor transport is an external
// contract, not an in-process call).
type CloudEventDispatcher struct {
	client cloudevents.Client
	target string
	source string
}

// NewCloudEventDispatcher builds a dispatcher posting events to
// targetURL over HTTP, identifying itself as source in the event's
// source attribute.
func NewCloudEventDispatcher(targetURL, source string) (*CloudEventDispatcher, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(targetURL))
	if err != nil {
		return nil, schederrors.New(schederrors.Fatal, err, "executor: building cloudevents client")
	}
	return &CloudEventDispatcher{client: client, target: targetURL, source: source}, nil
}

func (d *CloudEventDispatcher) Submit(ctx context.Context, spec JobSpec) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(d.source)
	event.SetType(eventTypeBuildSubmit)
	if err := event.SetData(cloudevents.ApplicationJSON, buildSubmitPayload{
		BuildUUID:  spec.Build.UUID,
		JobName:    spec.Job.Name,
		NodeLabels: spec.Job.NodeLabels,
		Timeout:    int64(spec.Job.Timeout.Seconds()),
	}); err != nil {
		return schederrors.New(schederrors.Fatal, err, "executor: encoding submit event")
	}

	result := d.client.Send(ctx, event)
	if cloudevents.IsUndelivered(result) {
		return schederrors.New(schederrors.TransientExternal, result, "executor: submitting build %s", spec.Build.UUID)
	}
	if cloudevents.IsNACK(result) {
		return schederrors.New(schederrors.TransientExternal, result, "executor: backend rejected build %s", spec.Build.UUID)
	}
	return nil
}

func (d *CloudEventDispatcher) Cancel(ctx context.Context, buildUUID string) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(d.source)
	event.SetType(eventTypeBuildCancel)
	if err := event.SetData(cloudevents.ApplicationJSON, map[string]string{"build_uuid": buildUUID}); err != nil {
		return schederrors.New(schederrors.Fatal, err, "executor: encoding cancel event")
	}
	result := d.client.Send(ctx, event)
	if cloudevents.IsUndelivered(result) {
		return schederrors.New(schederrors.TransientExternal, result, "executor: canceling build %s", buildUUID)
	}
	return nil
}

// Receiver is a CloudEvents HTTP receiver translating inbound
// dev.conveyor.build.result events into schedevent.ResultEvent values
// delivered to onResult. It is meant to be run as its own goroutine
// via Serve; the scheduler consumes from onResult on its own schedule.
type Receiver struct {
	client   cloudevents.Client
	onResult func(schedevent.ResultEvent)
}

// NewReceiver builds a Receiver listening on addr (e.g. ":8090"),
// invoking onResult for each decoded result event. onResult must not
// block.
func NewReceiver(addr string, onResult func(schedevent.ResultEvent)) (*Receiver, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithPath("/"), cloudevents.WithPort(portFromAddr(addr)))
	if err != nil {
		return nil, schederrors.New(schederrors.Fatal, err, "executor: building cloudevents receiver")
	}
	return &Receiver{client: client, onResult: onResult}, nil
}

// Serve blocks, receiving events until ctx is canceled.
func (r *Receiver) Serve(ctx context.Context) error {
	return r.client.StartReceiver(ctx, func(event cloudevents.Event) {
		if event.Type() != eventTypeBuildResult {
			return
		}
		var payload buildResultPayload
		if err := event.DataAs(&payload); err != nil {
			return
		}
		if payload.Started {
			r.onResult(&schedevent.BuildStartedEvent{BuildUUID: payload.BuildUUID})
			return
		}
		r.onResult(&schedevent.BuildCompletedEvent{BuildUUID: payload.BuildUUID, Result: model.Result(payload.Result)})
	})
}

func portFromAddr(addr string) int {
	var port int
	if _, err := fmt.Sscanf(addr, ":%d", &port); err != nil {
		return 8090
	}
	return port
}
