package destroy

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/corral-io/corral/internal/logging"
)

// StateIDLabel marks a container as belonging to one instance state.
const StateIDLabel = "io.corral.state-id"

// Docker destroys the containers labeled with an instance's state id.
type Docker struct {
	client *client.Client
}

func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{client: cli}, nil
}

func (d *Docker) DeleteState(ctx context.Context, req Request) error {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", StateIDLabel, req.StateID)),
		),
	})
	if err != nil {
		return fmt.Errorf("list containers for state %s: %w", req.StateID, err)
	}

	for _, c := range containers {
		logging.Debug("removing container", "state", req.StateID, "container", c.ID)
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return fmt.Errorf("remove container %s: %w", c.ID, err)
		}
	}
	return nil
}
