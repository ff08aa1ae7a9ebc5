package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTopicLister struct {
	topics []string
	err    error
}

func (f *fakeTopicLister) AllTopics(context.Context) ([]string, error) {
	return f.topics, f.err
}

func TestListTopics(t *testing.T) {
	app := fiber.New()
	h := NewContentHandler(nil, &fakeTopicLister{topics: []string{"algebra", "photosynthesis"}})
	app.Get("/api/v1/topics", h.ListTopics)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/topics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "photosynthesis")
	assert.Contains(t, string(body), `"count":2`)
}

func TestListTopicsEmpty(t *testing.T) {
	app := fiber.New()
	h := NewContentHandler(nil, &fakeTopicLister{})
	app.Get("/api/v1/topics", h.ListTopics)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/topics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"topics":[]`)
}

func TestListTopicsFailure(t *testing.T) {
	app := fiber.New()
	h := NewContentHandler(nil, &fakeTopicLister{err: errors.New("kb down")})
	app.Get("/api/v1/topics", h.ListTopics)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/topics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
