package storage

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// AssetPurpose captures the intent behind an object so its layout stays consistent.
type AssetPurpose string

const (
	PurposeGeneratedVideo AssetPurpose = "generated-video"
	PurposeProductImage   AssetPurpose = "product-image"
)

// PathParams provide the identifiers composed into object keys.
type PathParams struct {
	OwnerID  string
	JobID    string
	FileName string
}

type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposeGeneratedVideo: buildGeneratedVideoPath,
		PurposeProductImage:   buildProductImagePath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a purpose. A nil
// builder removes it.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

// videos/{owner}/{job}/{file}
func buildGeneratedVideoPath(params PathParams) (string, error) {
	ownerID, err := validateSegment("ownerID", params.OwnerID)
	if err != nil {
		return "", err
	}
	jobID, err := validateSegment("jobID", params.JobID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	if path.Ext(fileName) == "" {
		fileName += ".mp4"
	}
	return fmt.Sprintf("videos/%s/%s/%s", ownerID, jobID, fileName), nil
}

// uploads/{owner}/{job}/{file}, where the client app stores product shots.
func buildProductImagePath(params PathParams) (string, error) {
	ownerID, err := validateSegment("ownerID", params.OwnerID)
	if err != nil {
		return "", err
	}
	jobID, err := validateSegment("jobID", params.JobID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("uploads/%s/%s/%s", ownerID, jobID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	return validateSegment("fileName", value)
}
