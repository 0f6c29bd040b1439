package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/digitalocean/godo/util"

	"github.com/canopus-io/acceptance-tests/ssh"
)

// imageSlugs maps supported distributions to DigitalOcean image slugs.
var imageSlugs = map[string]string{
	"centos-7":     "centos-7-x64",
	"fedora-20":    "fedora-20-x64",
	"ubuntu-14.04": "ubuntu-14-04-x64",
}

type doProvisioner struct {
	apiToken  string
	region    string
	size      string
	sshKeyIDs []godo.DropletCreateSSHKey
	exec      ssh.Executor
}

// NewDigitalOcean returns a Provisioner creating droplets in the given
// region and size, with the given ssh keys authorized on each droplet.
func NewDigitalOcean(apiToken, region, size string, sshKeyIDs []int, exec ssh.Executor) Provisioner {
	keys := make([]godo.DropletCreateSSHKey, len(sshKeyIDs))
	for i, id := range sshKeyIDs {
		keys[i] = godo.DropletCreateSSHKey{ID: id}
	}
	return &doProvisioner{
		apiToken:  apiToken,
		region:    region,
		size:      size,
		sshKeyIDs: keys,
		exec:      exec,
	}
}

func (dop *doProvisioner) CreateNode(ctx context.Context, name, distribution string, metadata map[string]string) (Instance, error) {
	slug, ok := imageSlugs[distribution]
	if !ok {
		return nil, fmt.Errorf("no image for distribution %q", distribution)
	}

	client := godo.NewFromToken(dop.apiToken)
	req := godo.DropletCreateRequest{
		Name:    name,
		Region:  dop.region,
		Size:    dop.size,
		Image:   godo.DropletCreateImage{Slug: slug},
		SSHKeys: dop.sshKeyIDs,
		Tags:    metadataTags(metadata),
	}

	slog.Info("creating droplet", "name", name)
	d, err := createDroplet(ctx, client, &req)
	if err != nil {
		return nil, err
	}

	addr, err := d.PublicIPv4()
	if err != nil {
		return nil, fmt.Errorf("droplet %s has no public address: %w", d.Name, err)
	}

	inst := &doInstance{apiToken: dop.apiToken, droplet: d, addr: addr}
	if err := dop.waitForReachable(ctx, addr); err != nil {
		slog.Warn("destroying unreachable droplet", "name", d.Name)
		if errDel := inst.Destroy(context.WithoutCancel(ctx)); errDel != nil {
			slog.Error("couldn't destroy droplet, please do so manually", "name", d.Name, "error", errDel)
		}
		return nil, err
	}

	return inst, nil
}

func createDroplet(ctx context.Context, c *godo.Client, dcr *godo.DropletCreateRequest) (*godo.Droplet, error) {
	d, resp, err := c.Droplets.Create(ctx, dcr)
	if err != nil {
		return nil, err
	}

	var action *godo.LinkAction
	for _, a := range resp.Links.Actions {
		if a.Rel == "create" {
			action = &a
			break
		}
	}

	if action != nil {
		_ = util.WaitForActive(ctx, c, action.HREF)
		got, _, err := c.Droplets.Get(ctx, d.ID)
		if err != nil {
			// The droplet exists but never becomes usable to us, so it
			// would leak untracked. Destroy it before surfacing the error.
			slog.Warn("failed waiting for droplet to become active, destroying it", "name", dcr.Name)
			if _, errDel := c.Droplets.Delete(context.WithoutCancel(ctx), d.ID); errDel != nil {
				slog.Error("failed to destroy droplet, please do so manually", "name", dcr.Name, "error", errDel)
			}
			return nil, fmt.Errorf("failed waiting for droplet to become active: %w", err)
		}
		d = got
	}

	return d, nil
}

const (
	// Server-side rate limiting blocks repeated ssh attempts within a
	// 30s window, so the backoff has to start above that.
	backoffModifier = 10 * time.Second
	maxTries        = 5
)

// waitForReachable polls the instance for ssh readiness with exponential
// backoff.
func (dop *doProvisioner) waitForReachable(ctx context.Context, addr string) error {
	for i := 0.0; i < maxTries; i++ {
		if dop.exec.Run(ctx, "root", addr, []string{"true"}) == nil {
			return nil
		}
		backoff := time.Duration(math.Pow(2.0, i)) * backoffModifier
		slog.Info("node not yet reachable", "addr", addr, "retryIn", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.New("not reachable after configured timeout")
}

type doInstance struct {
	apiToken string
	droplet  *godo.Droplet
	addr     string
}

func (doi *doInstance) Name() string    { return doi.droplet.Name }
func (doi *doInstance) Address() string { return doi.addr }

func (doi *doInstance) Destroy(ctx context.Context) error {
	client := godo.NewFromToken(doi.apiToken)
	_, err := client.Droplets.Delete(ctx, doi.droplet.ID)
	return err
}

// metadataTags flattens metadata into droplet tags, sorted so tag order
// is stable across runs. Dots are not legal in tags and become dashes.
func metadataTags(metadata map[string]string) []string {
	tags := make([]string, 0, len(metadata))
	for k, v := range metadata {
		tags = append(tags, strings.ReplaceAll(k+":"+v, ".", "-"))
	}
	sort.Strings(tags)
	return tags
}
