package microsurvey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// cloudTaskPayload is the body delivered to the push-dispatch HTTP target
// when a scheduled Cloud Task fires.
type cloudTaskPayload struct {
	UserID  int64  `json:"user_id"`
	Content string `json:"content"`
}

// CloudTasksScheduler is the production PushScheduler, grounded on the
// teacher's queue-dispatch wiring style (internal/webhooks/cloud_dispatcher.go)
// generalized from immediate HTTP dispatch to a Cloud Tasks ETA so
// `nextPushTime`'s proposal doesn't require the orchestrator to busy-poll.
type CloudTasksScheduler struct {
	client       *cloudtasks.Client
	queuePath    string // projects/{p}/locations/{l}/queues/{q}
	targetURL    string
}

func NewCloudTasksScheduler(ctx context.Context, project, location, queue, targetURL string) (*CloudTasksScheduler, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("microsurvey: cloudtasks.NewClient: %w", err)
	}
	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queue)
	return &CloudTasksScheduler{client: client, queuePath: queuePath, targetURL: targetURL}, nil
}

func (s *CloudTasksScheduler) Close() error { return s.client.Close() }

// Schedule creates a Cloud Task whose HTTP target fires at (or near) at.
func (s *CloudTasksScheduler) Schedule(ctx context.Context, userID int64, at time.Time, content string) error {
	body, err := json.Marshal(cloudTaskPayload{UserID: userID, Content: content})
	if err != nil {
		return fmt.Errorf("marshal push task payload: %w", err)
	}

	_, err = s.client.CreateTask(ctx, &taskspb.CreateTaskRequest{
		Parent: s.queuePath,
		Task: &taskspb.Task{
			ScheduleTime: timestamppb.New(at),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					Url:        s.targetURL,
					HttpMethod: taskspb.HttpMethod_POST,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       body,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("microsurvey: create cloud task: %w", err)
	}
	return nil
}
