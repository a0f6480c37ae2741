package twitter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"
)

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprint(*pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		return errors.New(summarizeGotwiError(gwErr))
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	if err == nil {
		return "unknown X API error"
	}

	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}
	return strings.Join(parts, "; ")
}

// tokenHolder satisfies the access token half of gotwi's parameter contract.
type tokenHolder struct {
	accessToken string
}

func (t *tokenHolder) SetAccessToken(token string) { t.accessToken = token }
func (t *tokenHolder) AccessToken() string         { return t.accessToken }

// simpleUploadParameters is a form encoded single call media upload.
type simpleUploadParameters struct {
	tokenHolder
	mediaData string
	category  string
}

func (p *simpleUploadParameters) ResolveEndpoint(endpointBase string) string {
	return endpointBase
}

func (p *simpleUploadParameters) Body() (io.Reader, error) {
	form := url.Values{}
	for k, v := range p.ParameterMap() {
		form.Set(k, v)
	}
	return strings.NewReader(form.Encode()), nil
}

func (p *simpleUploadParameters) ParameterMap() map[string]string {
	m := map[string]string{"media_data": p.mediaData}
	if p.category != "" {
		m["media_category"] = p.category
	}
	return m
}

type simpleUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

func (simpleUploadResponse) HasPartialError() bool { return false }

// statusParameters queries the processing state of a finalized upload.
type statusParameters struct {
	tokenHolder
	mediaID string
}

func (p *statusParameters) ResolveEndpoint(endpointBase string) string {
	q := url.Values{}
	for k, v := range p.ParameterMap() {
		q.Set(k, v)
	}
	return endpointBase + "?" + q.Encode()
}

func (p *statusParameters) Body() (io.Reader, error) { return nil, nil }

func (p *statusParameters) ParameterMap() map[string]string {
	return map[string]string{"command": "STATUS", "media_id": p.mediaID}
}

type statusResponse struct {
	Data struct {
		ID             string         `json:"id"`
		ProcessingInfo processingInfo `json:"processing_info"`
	} `json:"data"`
	Errors []resources.PartialError `json:"errors"`
}

func (r statusResponse) HasPartialError() bool { return len(r.Errors) > 0 }

type metadataParameters struct {
	tokenHolder
	mediaID string
	altText string
}

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string {
	return endpointBase
}

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string {
	return map[string]string{}
}

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
