package di

import (
	"context"
	"io"
	"strings"
	"testing"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/config"
	"github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/providers/veo"
	"github.com/adreel/api/internal/repositories"
)

type stubJobs struct{}

func (stubJobs) FindByID(context.Context, string) (domain.VideoJob, error) {
	return domain.VideoJob{}, nil
}

func (stubJobs) Transact(context.Context, string, repositories.VideoJobTxFunc) error { return nil }

func (stubJobs) Update(context.Context, string, repositories.VideoJobUpdate) error { return nil }

type stubEvents struct{}

func (stubEvents) Append(context.Context, domain.AnalyticsEvent) error { return nil }

type stubHealth struct{}

func (stubHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

type stubObjects struct{}

func (stubObjects) Attrs(context.Context, storage.ObjectRef) (storage.ObjectAttrs, error) {
	return storage.ObjectAttrs{}, storage.ErrObjectNotFound
}

func (stubObjects) Download(context.Context, storage.ObjectRef, int64) ([]byte, error) {
	return nil, storage.ErrObjectNotFound
}

func (stubObjects) Upload(context.Context, storage.ObjectRef, io.Reader, storage.UploadOptions) (int64, error) {
	return 0, nil
}

func (stubObjects) UpdateMetadata(context.Context, storage.ObjectRef, map[string]string) error {
	return nil
}

func (stubObjects) Copy(context.Context, storage.ObjectRef, storage.ObjectRef, storage.UploadOptions) error {
	return nil
}

type stubProvider struct{}

func (stubProvider) Generate(context.Context, string, veo.GenerateRequest) (string, error) {
	return "op", nil
}

func (stubProvider) Poll(context.Context, string, string) (veo.Operation, error) {
	return veo.Operation{}, nil
}

func (stubProvider) Download(context.Context, string, string) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader("")), "video/mp4", nil
}

func testInfrastructure() Infrastructure {
	return Infrastructure{
		Objects:  stubObjects{},
		Provider: stubProvider{},
		APIKey:   func(context.Context) (string, error) { return "key", nil },
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{DefaultBucket: "demo.firebasestorage.app"}}
	repos := Repositories{Jobs: stubJobs{}, Events: stubEvents{}, Health: stubHealth{}}

	container, err := NewContainer(context.Background(), cfg, repos, testInfrastructure())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.VideoJobs == nil {
		t.Fatalf("expected video job service")
	}
	if container.Services.Analytics == nil {
		t.Fatalf("expected analytics service")
	}
	if container.Services.System == nil {
		t.Fatalf("expected system service when health repository is provided")
	}
	if container.Config.Storage.DefaultBucket != cfg.Storage.DefaultBucket {
		t.Fatalf("expected config to be retained, got %+v", container.Config.Storage)
	}
}

func TestNewContainerWithoutHealthSkipsSystemService(t *testing.T) {
	repos := Repositories{Jobs: stubJobs{}, Events: stubEvents{}}

	container, err := NewContainer(context.Background(), config.Config{}, repos, testInfrastructure())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.System != nil {
		t.Fatalf("expected no system service without health repository")
	}
}

func TestNewContainerValidatesDependencies(t *testing.T) {
	cases := []struct {
		name  string
		repos Repositories
		infra Infrastructure
	}{
		{name: "missing jobs", repos: Repositories{Events: stubEvents{}}, infra: testInfrastructure()},
		{name: "missing events", repos: Repositories{Jobs: stubJobs{}}, infra: testInfrastructure()},
		{name: "missing object store", repos: Repositories{Jobs: stubJobs{}, Events: stubEvents{}}, infra: Infrastructure{
			Provider: stubProvider{},
			APIKey:   func(context.Context) (string, error) { return "key", nil },
		}},
		{name: "missing provider", repos: Repositories{Jobs: stubJobs{}, Events: stubEvents{}}, infra: Infrastructure{
			Objects: stubObjects{},
			APIKey:  func(context.Context) (string, error) { return "key", nil },
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewContainer(context.Background(), config.Config{}, tc.repos, tc.infra); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
