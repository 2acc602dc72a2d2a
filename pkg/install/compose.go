package install

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/registry"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// executionImages maps supported execution clients to their images.
var executionImages = map[string]string{
	"geth":       "ethereum/client-go:stable",
	"reth":       "ghcr.io/paradigmxyz/reth:latest",
	"nethermind": "nethermind/nethermind:latest",
	"besu":       "hyperledger/besu:latest",
}

// consensusImages maps supported consensus clients to their images.
var consensusImages = map[string]string{
	"lighthouse": "sigp/lighthouse:latest",
	"teku":       "consensys/teku:latest",
	"nimbus":     "statusim/nimbus-eth2:multiarch-latest",
	"lodestar":   "chainsafe/lodestar:latest",
	"grandine":   "sifrai/grandine:latest",
}

// containerPorts maps each logical purpose to the fixed in-container port.
// Host ports vary per instance; container ports never do.
var containerPorts = map[string]int{
	config.PortELP2P:     30303,
	config.PortELRPC:     8545,
	config.PortELEngine:  8551,
	config.PortELMetrics: 6060,
	config.PortCLP2P:     9000,
	config.PortCLRest:    5052,
	config.PortCLMetrics: 8008,
}

// ValidateClients rejects unknown client selections before anything is
// allocated or written.
func ValidateClients(execution, consensus string) error {
	if _, ok := executionImages[execution]; !ok {
		return fmt.Errorf("unknown execution client %q (supported: %s)",
			execution, strings.Join(sortedKeys(executionImages), ", "))
	}
	if _, ok := consensusImages[consensus]; !ok {
		return fmt.Errorf("unknown consensus client %q (supported: %s)",
			consensus, strings.Join(sortedKeys(consensusImages), ", "))
	}
	return nil
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	ContainerName string   `yaml:"container_name"`
	Image         string   `yaml:"image"`
	Restart       string   `yaml:"restart"`
	Ports         []string `yaml:"ports,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	Networks      []string `yaml:"networks"`
}

type composeNetwork struct {
	External bool   `yaml:"external"`
	Name     string `yaml:"name"`
}

// BuildComposeFile renders the instance's workload descriptor: one execution
// and one consensus service, host ports from the reservations, the shared
// JWT secret mounted into both, joined to the external shared network.
func BuildComposeFile(name, networkName, execution, consensus string, reservations []types.PortReservation) ([]byte, error) {
	if err := ValidateClients(execution, consensus); err != nil {
		return nil, err
	}

	var elPorts, clPorts []string
	for _, r := range reservations {
		containerPort, ok := containerPorts[r.Purpose]
		if !ok {
			return nil, fmt.Errorf("no container port known for purpose %q", r.Purpose)
		}
		mapping := fmt.Sprintf("%d:%d/%s", r.Port, containerPort, r.Protocol)
		if strings.HasPrefix(r.Purpose, "el-") {
			elPorts = append(elPorts, mapping)
		} else {
			clPorts = append(clPorts, mapping)
		}
	}
	sort.Strings(elPorts)
	sort.Strings(clPorts)

	doc := composeFile{
		Services: map[string]composeService{
			"execution": {
				ContainerName: registry.ExecutionContainerName(name),
				Image:         executionImages[execution],
				Restart:       "unless-stopped",
				Ports:         elPorts,
				Volumes: []string{
					"./execution-data:/var/lib/execution",
					"./jwt.hex:/var/lib/jwt.hex:ro",
				},
				Networks: []string{networkName},
			},
			"consensus": {
				ContainerName: registry.ConsensusContainerName(name),
				Image:         consensusImages[consensus],
				Restart:       "unless-stopped",
				Ports:         clPorts,
				Volumes: []string{
					"./consensus-data:/var/lib/consensus",
					"./jwt.hex:/var/lib/jwt.hex:ro",
				},
				Networks: []string{networkName},
			},
		},
		Networks: map[string]composeNetwork{
			networkName: {External: true, Name: networkName},
		},
	}

	return yaml.Marshal(&doc)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
