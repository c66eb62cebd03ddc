package translate

import (
	"encoding/json"
	"sort"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/jsonpath"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// BuildEmbeddingRequest constructs the provider-shaped JSON request body
// for req against mc's template.
func BuildEmbeddingRequest(mc *mergedconfig.MergedConfig, req *unified.UnifiedEmbeddingRequest) ([]byte, *gwerr.Error) {
	if mc.Template.EmbeddingAPI == nil {
		return nil, gwerr.New(gwerr.EmbeddingDisabled, "%s: provider has no embedding API configured", mc.ProviderName)
	}

	paths := mc.Template.EmbeddingAPI.RequestPaths

	model := mc.EmbeddingModel
	if req.Model != "" {
		model = req.Model
	}

	var root any
	jsonpath.Set(&root, paths.Model, model)

	inputs := make([]any, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = in
	}
	jsonpath.Set(&root, paths.Input, inputs)

	data, err := json.Marshal(root)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "marshal embedding request body")
	}

	return data, nil
}

// ParseEmbeddingResponse locates the array at responsePaths.dataList, reads
// each element's embedding/index sub-paths, and assembles a
// sorted-by-index UnifiedEmbeddingResponse.
func ParseEmbeddingResponse(mc *mergedconfig.MergedConfig, body []byte) (*unified.UnifiedEmbeddingResponse, *gwerr.Error) {
	if mc.Template.EmbeddingAPI == nil {
		return nil, gwerr.New(gwerr.EmbeddingDisabled, "%s: provider has no embedding API configured", mc.ProviderName)
	}

	paths := mc.Template.EmbeddingAPI.ResponsePaths

	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidResponse, err, "%s: malformed embedding response JSON", mc.ProviderName)
	}

	entries, ok := jsonpath.GetSlice(tree, paths.DataList)
	if !ok {
		return nil, gwerr.New(gwerr.InvalidResponse, "%s: no embedding data list in response", mc.ProviderName)
	}

	results := make([]unified.EmbeddingResult, 0, len(entries))
	for _, e := range entries {
		idxRaw, ok := jsonpath.Get(e, paths.Index)
		if !ok {
			return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding entry missing index", mc.ProviderName)
		}

		vecRaw, ok := jsonpath.Get(e, paths.Embedding)
		if !ok {
			return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding entry missing embedding vector", mc.ProviderName)
		}

		vecSlice, ok := vecRaw.([]any)
		if !ok {
			return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding vector is not an array", mc.ProviderName)
		}

		vec := make([]float64, len(vecSlice))
		for i, v := range vecSlice {
			f, ok := v.(float64)
			if !ok {
				return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding vector element is not numeric", mc.ProviderName)
			}
			vec[i] = f
		}

		results = append(results, unified.EmbeddingResult{Index: toInt(idxRaw), Embedding: vec})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	return &unified.UnifiedEmbeddingResponse{Data: results}, nil
}
