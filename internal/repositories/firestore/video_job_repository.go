package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/adreel/api/internal/domain"
	pfirestore "github.com/adreel/api/internal/platform/firestore"
	"github.com/adreel/api/internal/repositories"
)

const videoJobsCollection = "videoJobs"

// VideoJobRepository stores jobs in the videoJobs collection. Documents are
// written by the mobile client first, so decoding is lenient about field
// types rather than relying on DataTo.
type VideoJobRepository struct {
	provider *pfirestore.Provider
	jobs     *pfirestore.BaseRepository[domain.VideoJob]
}

var _ repositories.VideoJobRepository = (*VideoJobRepository)(nil)

func NewVideoJobRepository(provider *pfirestore.Provider) (*VideoJobRepository, error) {
	if provider == nil {
		return nil, errors.New("video job repository requires firestore provider")
	}
	jobs := pfirestore.NewBaseRepository[domain.VideoJob](provider, videoJobsCollection, nil, decodeVideoJob)
	return &VideoJobRepository{provider: provider, jobs: jobs}, nil
}

func (r *VideoJobRepository) FindByID(ctx context.Context, jobID string) (domain.VideoJob, error) {
	doc, err := r.jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return domain.VideoJob{}, err
	}
	return doc.Data, nil
}

func (r *VideoJobRepository) Transact(ctx context.Context, jobID string, fn repositories.VideoJobTxFunc) error {
	if fn == nil {
		return errors.New("video job repository: transaction function is required")
	}
	id := strings.TrimSpace(jobID)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.jobs.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("videoJobs.tx.get", err)
		}
		doc, err := r.jobs.Decode(ctx, snapshot)
		if err != nil {
			return err
		}
		update, err := fn(ctx, doc.Data)
		if err != nil {
			return err
		}
		if update == nil || update.IsEmpty() {
			return nil
		}
		return tx.Update(ref, encodeVideoJobUpdate(*update))
	})
}

func (r *VideoJobRepository) Update(ctx context.Context, jobID string, update repositories.VideoJobUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	return r.jobs.Update(ctx, strings.TrimSpace(jobID), encodeVideoJobUpdate(update))
}

func encodeVideoJobUpdate(u repositories.VideoJobUpdate) []firestore.Update {
	var updates []firestore.Update
	set := func(path firestore.FieldPath, value any) {
		updates = append(updates, firestore.Update{FieldPath: path, Value: value})
	}

	if u.Status != nil {
		set(firestore.FieldPath{"status"}, string(*u.Status))
	}
	if u.TemplateID != nil {
		set(firestore.FieldPath{"templateId"}, *u.TemplateID)
	}
	if u.Category != nil {
		set(firestore.FieldPath{"category"}, *u.Category)
	}
	if u.VeoPrompt != nil {
		set(firestore.FieldPath{"veoPrompt"}, *u.VeoPrompt)
	}
	if u.ProviderJobID != nil {
		set(firestore.FieldPath{"providerJobId"}, *u.ProviderJobID)
	}
	if u.FinalVideoURL != nil {
		set(firestore.FieldPath{"finalVideoUrl"}, *u.FinalVideoURL)
	}
	if u.ImageGSPath != nil {
		set(firestore.FieldPath{"promptV1", "product", "imageGsPath"}, *u.ImageGSPath)
	}
	if u.Error != nil {
		set(firestore.FieldPath{"error"}, map[string]any{
			"code":    u.Error.Code,
			"message": u.Error.Message,
		})
	}
	if u.ProcessingStartedAt != nil {
		set(firestore.FieldPath{"processing", "startedAt"}, u.ProcessingStartedAt.UTC())
	}
	if u.ProcessingHeartbeat != nil {
		set(firestore.FieldPath{"processing", "heartbeat"}, u.ProcessingHeartbeat.UTC())
	}
	if u.ProcessingPollAttempts != nil {
		set(firestore.FieldPath{"processing", "pollAttempts"}, *u.ProcessingPollAttempts)
	}
	if u.ProcessingCompletedAt != nil {
		set(firestore.FieldPath{"processing", "completedAt"}, u.ProcessingCompletedAt.UTC())
	}
	for key, value := range u.Debug {
		if key = strings.TrimSpace(key); key != "" {
			set(firestore.FieldPath{"debug", key}, value)
		}
	}
	if !u.UpdatedAt.IsZero() {
		set(firestore.FieldPath{"updatedAt"}, u.UpdatedAt.UTC())
	}
	return updates
}

func decodeVideoJob(_ context.Context, snap *firestore.DocumentSnapshot) (domain.VideoJob, error) {
	data := snap.Data()
	if data == nil {
		return domain.VideoJob{}, fmt.Errorf("video job %s has no data", snap.Ref.ID)
	}

	prompt := mapField(data, "promptV1")
	product := mapField(prompt, "product")
	output := mapField(prompt, "output")
	brand := mapField(mapField(data, "brief"), "brand")
	processing := mapField(data, "processing")

	job := domain.VideoJob{
		ID:      snap.Ref.ID,
		OwnerID: stringField(data, "uid"),
		Status:  domain.VideoJobStatus(stringField(data, "status")),
		Prompt: domain.PromptSpec{
			Product: domain.ProductSpec{
				Description: stringField(product, "description"),
				ImageGSPath: stringField(product, "imageGsPath"),
			},
			Output: domain.OutputSpec{
				Resolution:  stringField(output, "resolution"),
				AspectRatio: stringField(output, "aspectRatio"),
			},
			Hint: stringField(prompt, "hint"),
		},
		InputImagePath: stringField(data, "inputImagePath"),
		InputImageURL:  stringField(data, "inputImageUrl"),
		AspectRatio:    stringField(data, "aspectRatio"),
		Model:          stringField(data, "model"),
		Brief: domain.Brief{Brand: domain.Brand{
			Name:   stringField(brand, "name"),
			Slogan: stringField(brand, "slogan"),
		}},
		TemplateID:    stringField(data, "templateId"),
		Category:      stringField(data, "category"),
		VeoPrompt:     stringField(data, "veoPrompt"),
		ProviderJobID: stringField(data, "providerJobId"),
		Processing: domain.VideoJobProcessing{
			StartedAt:    timeField(processing, "startedAt"),
			Heartbeat:    timeField(processing, "heartbeat"),
			PollAttempts: intField(processing, "pollAttempts"),
			CompletedAt:  timeField(processing, "completedAt"),
		},
		FinalVideoURL: stringField(data, "finalVideoUrl"),
		Error:         errorField(data["error"]),
		CreatedAt:     snap.CreateTime,
		UpdatedAt:     snap.UpdateTime,
	}
	if job.Status == "" {
		job.Status = domain.VideoJobStatusPending
	}
	if updated := timeField(data, "updatedAt"); updated != nil {
		job.UpdatedAt = *updated
	}
	return job, nil
}

func mapField(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	value, _ := data[key].(map[string]any)
	return value
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}

func intField(data map[string]any, key string) int {
	switch value := data[key].(type) {
	case int64:
		return int(value)
	case int:
		return value
	case float64:
		return int(value)
	default:
		return 0
	}
}

func timeField(data map[string]any, key string) *time.Time {
	value, ok := data[key].(time.Time)
	if !ok || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// errorField accepts both the structured {code, message} form and a bare
// string written by older clients.
func errorField(raw any) *domain.VideoJobError {
	switch value := raw.(type) {
	case map[string]any:
		code, message := stringField(value, "code"), stringField(value, "message")
		if code == "" && message == "" {
			return nil
		}
		return &domain.VideoJobError{Code: code, Message: message}
	case string:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return &domain.VideoJobError{Message: strings.TrimSpace(value)}
	default:
		return nil
	}
}
