package sniffer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/catalog"
	"vidsniff/work/config"
	"vidsniff/work/types"
)

type response struct {
	url     string
	headers map[string]string
}

type fakePage struct {
	requests  []string
	responses []response
	navErr    error
	clickErr  error

	rewritten map[string]map[string]string
	clicked   []string
	closed    int
}

func (p *fakePage) Intercept(rewrite RequestRewriter, observe ResponseObserver) error {
	p.rewritten = map[string]map[string]string{}
	for _, u := range p.requests {
		if h := rewrite(u); h != nil {
			p.rewritten[u] = h
		}
	}
	for _, r := range p.responses {
		observe(r.url, r.headers)
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, rawURL string) error { return p.navErr }

func (p *fakePage) Click(ctx context.Context, selectors ...string) error {
	p.clicked = selectors
	return p.clickErr
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

type fakeBrowser struct {
	page *fakePage
	err  error
}

func (b *fakeBrowser) Open(ctx context.Context) (Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

func TestBrowserProbeSelectsCandidateAndCloses(t *testing.T) {
	page := &fakePage{
		requests: []string{"https://vidsrc.vip/embed/1", "https://example.com/ad.js"},
		responses: []response{
			{url: "https://cdn/small.mp4", headers: map[string]string{"Content-Length": "10"}},
			{url: "https://cdn/large.mp4", headers: map[string]string{"Content-Length": "5000"}},
			{url: "https://cdn/index.m3u8"},
		},
	}
	rules := catalog.NewHeaderRules(config.DefaultHeaderRules())
	s := NewBrowserSniffer(&fakeBrowser{page: page}, rules, Timings{})

	cand, err := s.Probe(context.Background(), types.Provider{Name: "VidPro", EndpointURL: "https://vidsrc.vip/embed/1"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/large.mp4", cand.URL)
	assert.Equal(t, 1, page.closed)

	assert.Equal(t, "https://vidsrc.vip", page.rewritten["https://vidsrc.vip/embed/1"]["Origin"])
	assert.NotContains(t, page.rewritten, "https://example.com/ad.js")
	assert.Empty(t, page.clicked)
}

func TestBrowserProbeClickPlayIsNonFatal(t *testing.T) {
	page := &fakePage{
		clickErr:  ErrNothingToClick,
		responses: []response{{url: "https://cdn/stream.m3u8"}},
	}
	s := NewBrowserSniffer(&fakeBrowser{page: page}, nil, Timings{})

	cand, err := s.Probe(context.Background(), types.Provider{Name: "VidEasy", Interaction: types.InteractionClickPlay})
	require.NoError(t, err)
	assert.Equal(t, types.CandidateHLS, cand.Kind)
	assert.Equal(t, []string{"button", `div[role="button"]`, "div"}, page.clicked)
}

func TestBrowserProbeFailures(t *testing.T) {
	s := NewBrowserSniffer(&fakeBrowser{err: errors.New("401")}, nil, Timings{})
	_, err := s.Probe(context.Background(), types.Provider{Name: "x"})
	assert.ErrorIs(t, err, ErrConnect)

	page := &fakePage{navErr: context.DeadlineExceeded}
	s = NewBrowserSniffer(&fakeBrowser{page: page}, nil, Timings{})
	_, err = s.Probe(context.Background(), types.Provider{Name: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, page.closed)

	page = &fakePage{responses: []response{{url: "https://cdn/app.js"}}}
	s = NewBrowserSniffer(&fakeBrowser{page: page}, nil, Timings{})
	_, err = s.Probe(context.Background(), types.Provider{Name: "x"})
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, 1, page.closed)
}
