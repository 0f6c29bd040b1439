package provisioner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateDropletDestroysOnActivationFailure covers the path where the
// droplet was created but can't be fetched after activation: it must be
// destroyed right there, never left behind untracked.
func TestCreateDropletDestroysOnActivationFailure(t *testing.T) {
	var deleted bool
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v2/droplets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"droplet":{"id":42,"name":"acceptance-test-alice-0"},"links":{"actions":[{"id":1,"rel":"create","href":"%s/v2/actions/1"}]}}`, server.URL)
	})
	mux.HandleFunc("/v2/actions/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"action":{"id":1,"status":"completed"}}`)
	})
	mux.HandleFunc("/v2/droplets/42", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "gone", http.StatusInternalServerError)
		}
	})

	client, err := godo.New(http.DefaultClient, godo.SetBaseURL(server.URL+"/"))
	require.NoError(t, err)

	_, err = createDroplet(context.Background(), client, &godo.DropletCreateRequest{
		Name:   "acceptance-test-alice-0",
		Region: "fra1",
		Size:   "s-2vcpu-4gb",
		Image:  godo.DropletCreateImage{Slug: "ubuntu-14-04-x64"},
	})

	assert.ErrorContains(t, err, "failed waiting for droplet to become active")
	assert.True(t, deleted, "droplet must be destroyed when activation can't be confirmed")
}

func TestMetadataTags(t *testing.T) {
	tags := metadataTags(map[string]string{
		"purpose":      "acceptance-testing",
		"distribution": "ubuntu-14.04",
		"creator":      "alice",
	})

	assert.Equal(t, []string{
		"creator:alice",
		"distribution:ubuntu-14-04",
		"purpose:acceptance-testing",
	}, tags)
}

func TestImageSlugForEverySupportedDistribution(t *testing.T) {
	for _, d := range []string{"centos-7", "fedora-20", "ubuntu-14.04"} {
		assert.NotEmpty(t, imageSlugs[d], d)
	}
}
