package services

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/providers/veo"
	"github.com/adreel/api/internal/repositories"
)

type testRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e testRepoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	default:
		return "repository error"
	}
}

func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return e.conflict }
func (e testRepoError) IsUnavailable() bool { return e.unavailable }

// memoryVideoJobRepository serialises transactions with a mutex.
type memoryVideoJobRepository struct {
	mu        sync.Mutex
	jobs      map[string]domain.VideoJob
	debug     map[string]map[string]any
	updates   []repositories.VideoJobUpdate
	updateErr func(repositories.VideoJobUpdate) error
}

func newMemoryVideoJobRepository(jobs ...domain.VideoJob) *memoryVideoJobRepository {
	repo := &memoryVideoJobRepository{
		jobs:  make(map[string]domain.VideoJob),
		debug: make(map[string]map[string]any),
	}
	for _, job := range jobs {
		repo.jobs[job.ID] = job
	}
	return repo
}

func (r *memoryVideoJobRepository) FindByID(_ context.Context, jobID string) (domain.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.VideoJob{}, testRepoError{notFound: true}
	}
	return job, nil
}

func (r *memoryVideoJobRepository) Transact(ctx context.Context, jobID string, fn repositories.VideoJobTxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return testRepoError{notFound: true}
	}
	update, err := fn(ctx, job)
	if err != nil {
		return err
	}
	if update == nil || update.IsEmpty() {
		return nil
	}
	if r.updateErr != nil {
		if err := r.updateErr(*update); err != nil {
			return err
		}
	}
	r.apply(jobID, *update)
	return nil
}

func (r *memoryVideoJobRepository) Update(_ context.Context, jobID string, update repositories.VideoJobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		if err := r.updateErr(update); err != nil {
			return err
		}
	}
	if _, ok := r.jobs[jobID]; !ok {
		return testRepoError{notFound: true}
	}
	r.apply(jobID, update)
	return nil
}

func (r *memoryVideoJobRepository) apply(jobID string, u repositories.VideoJobUpdate) {
	r.updates = append(r.updates, u)
	job := r.jobs[jobID]
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.TemplateID != nil {
		job.TemplateID = *u.TemplateID
	}
	if u.Category != nil {
		job.Category = *u.Category
	}
	if u.VeoPrompt != nil {
		job.VeoPrompt = *u.VeoPrompt
	}
	if u.ProviderJobID != nil {
		job.ProviderJobID = *u.ProviderJobID
	}
	if u.FinalVideoURL != nil {
		job.FinalVideoURL = *u.FinalVideoURL
	}
	if u.ImageGSPath != nil {
		job.Prompt.Product.ImageGSPath = *u.ImageGSPath
	}
	if u.Error != nil {
		copied := *u.Error
		job.Error = &copied
	}
	if u.ProcessingStartedAt != nil {
		job.Processing.StartedAt = u.ProcessingStartedAt
	}
	if u.ProcessingHeartbeat != nil {
		job.Processing.Heartbeat = u.ProcessingHeartbeat
	}
	if u.ProcessingPollAttempts != nil {
		job.Processing.PollAttempts = *u.ProcessingPollAttempts
	}
	if u.ProcessingCompletedAt != nil {
		job.Processing.CompletedAt = u.ProcessingCompletedAt
	}
	if len(u.Debug) > 0 {
		if r.debug[jobID] == nil {
			r.debug[jobID] = make(map[string]any)
		}
		for k, v := range u.Debug {
			r.debug[jobID][k] = v
		}
	}
	if !u.UpdatedAt.IsZero() {
		job.UpdatedAt = u.UpdatedAt
	}
	r.jobs[jobID] = job
}

func (r *memoryVideoJobRepository) job(jobID string) domain.VideoJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobID]
}

func (r *memoryVideoJobRepository) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type fakeObjectStore struct {
	mu              sync.Mutex
	objects         map[storage.ObjectRef]fakeObject
	attrsCalls      []storage.ObjectRef
	metadataUpdates int
	uploads         []storage.ObjectRef
	copies          []storage.ObjectRef
	uploadErr       error
	copyErr         error
	metadataErr     error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[storage.ObjectRef]fakeObject)}
}

func (s *fakeObjectStore) put(ref storage.ObjectRef, data []byte, contentType string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = fakeObject{data: data, contentType: contentType, metadata: metadata}
}

func (s *fakeObjectStore) get(ref storage.ObjectRef) (fakeObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[ref]
	return obj, ok
}

func (s *fakeObjectStore) Attrs(_ context.Context, ref storage.ObjectRef) (storage.ObjectAttrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrsCalls = append(s.attrsCalls, ref)
	obj, ok := s.objects[ref]
	if !ok {
		return storage.ObjectAttrs{}, storage.ErrObjectNotFound
	}
	return storage.ObjectAttrs{Size: int64(len(obj.data)), ContentType: obj.contentType, Metadata: obj.metadata}, nil
}

func (s *fakeObjectStore) Download(_ context.Context, ref storage.ObjectRef, limit int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	if limit > 0 && int64(len(obj.data)) > limit {
		return nil, storage.ErrObjectTooLarge
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *fakeObjectStore) Upload(_ context.Context, ref storage.ObjectRef, body io.Reader, opts storage.UploadOptions) (int64, error) {
	if s.uploadErr != nil {
		return 0, s.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, ref)
	s.objects[ref] = fakeObject{data: data, contentType: opts.ContentType, metadata: opts.Metadata}
	return int64(len(data)), nil
}

func (s *fakeObjectStore) UpdateMetadata(_ context.Context, ref storage.ObjectRef, metadata map[string]string) error {
	if s.metadataErr != nil {
		return s.metadataErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[ref]
	if !ok {
		return storage.ErrObjectNotFound
	}
	if obj.metadata == nil {
		obj.metadata = make(map[string]string)
	}
	for k, v := range metadata {
		obj.metadata[k] = v
	}
	s.objects[ref] = obj
	s.metadataUpdates++
	return nil
}

func (s *fakeObjectStore) Copy(_ context.Context, src, dst storage.ObjectRef, opts storage.UploadOptions) error {
	if s.copyErr != nil {
		return s.copyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[src]
	if !ok {
		return storage.ErrObjectNotFound
	}
	s.copies = append(s.copies, dst)
	s.objects[dst] = fakeObject{data: obj.data, contentType: opts.ContentType, metadata: opts.Metadata}
	return nil
}

type fakeSigner struct {
	err   error
	calls int
}

func (s *fakeSigner) SignedDownloadURL(_ context.Context, ref storage.ObjectRef, ttl time.Duration) (storage.SignedURLResult, error) {
	s.calls++
	if s.err != nil {
		return storage.SignedURLResult{}, s.err
	}
	return storage.SignedURLResult{URL: "https://signed.example/" + ref.Bucket + "/" + ref.Object}, nil
}

// fakeProvider reports done on the doneAfter-th poll; zero never finishes.
type fakeProvider struct {
	mu            sync.Mutex
	apiKey        string
	operationName string
	generateErr   error
	generateCalls int
	lastRequest   veo.GenerateRequest
	doneAfter     int
	final         veo.Operation
	pollErr       error
	pollCalls     int
	downloadBody  string
	downloadErr   error
	downloads     int
}

func (p *fakeProvider) Generate(_ context.Context, apiKey string, req veo.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateCalls++
	p.lastRequest = req
	if apiKey != p.apiKey {
		return "", &veo.APIError{StatusCode: 401, Body: "bad key"}
	}
	if p.generateErr != nil {
		return "", p.generateErr
	}
	return p.operationName, nil
}

func (p *fakeProvider) Poll(_ context.Context, apiKey, name string) (veo.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollCalls++
	if p.pollErr != nil {
		return veo.Operation{}, p.pollErr
	}
	if p.doneAfter > 0 && p.pollCalls >= p.doneAfter {
		op := p.final
		op.Name = name
		op.Done = true
		return op, nil
	}
	return veo.Operation{Name: name}, nil
}

func (p *fakeProvider) Download(_ context.Context, apiKey, uri string) (io.ReadCloser, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	if p.downloadErr != nil {
		return nil, "", p.downloadErr
	}
	if apiKey != p.apiKey {
		return nil, "", errors.New("download requires api key")
	}
	return io.NopCloser(strings.NewReader(p.downloadBody)), "video/mp4", nil
}

func (p *fakeProvider) counts() (generate, poll int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls, p.pollCalls
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
}

func (a *fakeAnalytics) Track(_ context.Context, event domain.AnalyticsEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAnalytics) recorded() []domain.AnalyticsEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AnalyticsEvent(nil), a.events...)
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
