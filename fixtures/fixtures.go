package fixtures

import (
	_ "embed"
)

//go:embed images/mmult.yaml
var MMultImage []byte

//go:embed images/partition.yaml
var PartitionImage []byte

//go:embed images/stream.yaml
var StreamImage []byte

//go:embed config/config.yaml.template
var ConfigTemplate []byte
