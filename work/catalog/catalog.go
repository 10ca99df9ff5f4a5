package catalog

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/metadata"
	"vidsniff/work/types"
)

// placeholders that require a metadata lookup before substitution
var metadataPlaceholders = []string{"{title}", "{year}", "{runtime}"}

// TemplateSource supplies the provider templates, normally the sqlite store.
// Returning an error makes the builder fall back to the configured templates.
type TemplateSource interface {
	ProviderTemplates(ctx context.Context) ([]config.ProviderTemplate, error)
}

// MetadataLookup resolves title, year and runtime for a title id
type MetadataLookup interface {
	Lookup(ctx context.Context, mediaType types.MediaType, id string) (metadata.Info, error)
}

// Builder turns templates into the ordered provider list for one request
type Builder struct {
	cfg      *config.Config
	source   TemplateSource
	metadata MetadataLookup
}

// NewBuilder creates a catalog builder. source and lookup may be nil.
func NewBuilder(cfg *config.Config, source TemplateSource, lookup MetadataLookup) *Builder {
	return &Builder{cfg: cfg, source: source, metadata: lookup}
}

// Templates returns the active templates for a media type in probing order
func (b *Builder) Templates(ctx context.Context, mediaType types.MediaType) []config.ProviderTemplate {
	templates := b.cfg.Providers
	if b.source != nil {
		stored, err := b.source.ProviderTemplates(ctx)
		switch {
		case err != nil:
			logger.Warn("{catalog/catalog - Templates} template store unavailable, using configured providers: %v", err)
		case len(stored) > 0:
			templates = stored
		}
	}

	out := make([]config.ProviderTemplate, 0, len(templates))
	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if !t.Active || templateURL(t, mediaType) == "" {
			continue
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			logger.Warn("{catalog/catalog - Templates} duplicate provider name %q skipped", t.Name)
			continue
		}
		seen[key] = true
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return templateOrder(out[i], mediaType) < templateOrder(out[j], mediaType)
	})
	return out
}

// Build produces the ordered provider list for a request. Metadata is looked
// up only when a template needs it, and a failed lookup substitutes empty
// values instead of failing the build.
func (b *Builder) Build(ctx context.Context, req types.MediaRequest) ([]types.Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	templates := b.Templates(ctx, req.Type)

	var info metadata.Info
	if b.metadata != nil && needsMetadata(templates, req.Type) {
		found, err := b.metadata.Lookup(ctx, req.Type, req.ID)
		if err != nil {
			logger.Warn("{catalog/catalog - Build} metadata lookup failed for %s: %v", req.SessionKey(), err)
		} else {
			info = found
		}
	}

	values := placeholderValues(req, info)
	providers := make([]types.Provider, 0, len(templates))
	for _, t := range templates {
		providers = append(providers, types.Provider{
			Name:        t.Name,
			EndpointURL: Substitute(templateURL(t, req.Type), values),
			Strategy:    parseStrategy(t.Strategy),
			Interaction: parseInteraction(t.Interaction),
		})
	}

	logger.Debug("{catalog/catalog - Build} built %d providers for %s", len(providers), req.SessionKey())
	return providers, nil
}

// Names returns the provider names for a media type, in probing order
func (b *Builder) Names(ctx context.Context, mediaType types.MediaType) []string {
	templates := b.Templates(ctx, mediaType)
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	return names
}

// Substitute replaces every {placeholder} in tmpl with its value
func Substitute(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// placeholderValues builds the substitution table for a request
func placeholderValues(req types.MediaRequest, info metadata.Info) map[string]string {
	kind := "1"
	if req.Type == types.MediaTV {
		kind = "2"
	}
	runtime := ""
	if info.Runtime > 0 {
		runtime = strconv.Itoa(info.Runtime)
	}
	return map[string]string{
		"id":      url.PathEscape(req.ID),
		"season":  strconv.Itoa(req.Season),
		"episode": strconv.Itoa(req.Episode),
		"title":   encodeComponent(info.Title),
		"year":    info.Year,
		"runtime": runtime,
		"kind":    kind,
	}
}

// encodeComponent escapes a query value with %20 for spaces
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func needsMetadata(templates []config.ProviderTemplate, mediaType types.MediaType) bool {
	for _, t := range templates {
		u := templateURL(t, mediaType)
		for _, p := range metadataPlaceholders {
			if strings.Contains(u, p) {
				return true
			}
		}
	}
	return false
}

func templateURL(t config.ProviderTemplate, mediaType types.MediaType) string {
	if mediaType == types.MediaTV {
		return t.TVURL
	}
	return t.MovieURL
}

func templateOrder(t config.ProviderTemplate, mediaType types.MediaType) int {
	if mediaType == types.MediaTV && t.TVOrder > 0 {
		return t.TVOrder
	}
	return t.Order
}

func parseStrategy(s string) types.Strategy {
	if strings.EqualFold(s, config.StrategyPoll) {
		return types.StrategyPollJSON
	}
	return types.StrategyRenderAndIntercept
}

func parseInteraction(s string) types.Interaction {
	if strings.EqualFold(s, config.InteractionClick) {
		return types.InteractionClickPlay
	}
	return types.InteractionNone
}
