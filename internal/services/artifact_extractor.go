package services

import (
	"strings"

	"github.com/adreel/api/internal/providers/veo"
)

// extraction is the result of one extractor. Found is false when the path
// was absent or empty.
type extraction struct {
	Source string
	URI    string
	Found  bool
}

type artifactExtractor struct {
	name    string
	extract func(envelope map[string]any) (string, bool)
}

// artifactExtractors are tried in order against response, then result.
var artifactExtractors = []artifactExtractor{
	{name: "generateVideoResponse.generatedSamples", extract: func(env map[string]any) (string, bool) {
		sample, ok := firstObject(objectAt(env, "generateVideoResponse"), "generatedSamples")
		return stringAt(objectAt(sample, "video"), "uri"), ok
	}},
	{name: "generatedVideos", extract: func(env map[string]any) (string, bool) {
		video, ok := firstObject(env, "generatedVideos")
		return stringAt(objectAt(video, "video"), "uri"), ok
	}},
	{name: "videos.uri", extract: func(env map[string]any) (string, bool) {
		video, ok := firstObject(env, "videos")
		return stringAt(video, "uri"), ok
	}},
	{name: "videos.gcsUri", extract: func(env map[string]any) (string, bool) {
		video, ok := firstObject(env, "videos")
		return stringAt(video, "gcsUri"), ok
	}},
	{name: "video.uri", extract: func(env map[string]any) (string, bool) {
		video := objectAt(env, "video")
		return stringAt(video, "uri"), video != nil
	}},
}

// extractArtifact returns the first non-empty artifact URI in op.
func extractArtifact(op veo.Operation) extraction {
	envelopes := []struct {
		name string
		body map[string]any
	}{
		{"response", op.Response},
		{"result", op.Result},
	}
	for _, envelope := range envelopes {
		if envelope.body == nil {
			continue
		}
		for _, extractor := range artifactExtractors {
			uri, ok := extractor.extract(envelope.body)
			if !ok {
				continue
			}
			if uri = strings.TrimSpace(uri); uri != "" {
				return extraction{Source: envelope.name + "." + extractor.name, URI: uri, Found: true}
			}
		}
	}
	return extraction{}
}

func objectAt(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	value, _ := data[key].(map[string]any)
	return value
}

func firstObject(data map[string]any, key string) (map[string]any, bool) {
	if data == nil {
		return nil, false
	}
	items, _ := data[key].([]any)
	if len(items) == 0 {
		return nil, false
	}
	first, ok := items[0].(map[string]any)
	return first, ok
}

func stringAt(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	value, _ := data[key].(string)
	return value
}
