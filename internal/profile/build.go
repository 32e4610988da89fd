package profile

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/systmms/keyrotate/internal/config"
	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// Build creates the sinks listed in the configuration. awsCfg is the session
// of the identity being rotated and is only used by the AWS backed sinks.
func Build(configs []config.SinkConfig, awsCfg aws.Config, logger *logging.Logger) (*MultiSink, error) {
	sinks := make([]rotation.ProfileSink, 0, len(configs))
	for i, sc := range configs {
		sink, err := buildOne(sc, awsCfg)
		if err != nil {
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, sink)
	}
	return NewMultiSink(logger, sinks...), nil
}

func buildOne(sc config.SinkConfig, awsCfg aws.Config) (rotation.ProfileSink, error) {
	switch sc.Type {
	case TypeSharedCredentials:
		return NewSharedCredentialsFile(sc.Path, sc.Profile)
	case TypeCredentialsDir:
		return NewCredentialsDir(sc.Dir, sc.Profile), nil
	case TypeKeyring:
		return NewKeyringSink(sc.Service), nil
	case TypeSecretsManager:
		return NewSecretsManagerSink(awsCfg, sc.Name, WithSecretKMSKey(sc.KMSKeyID)), nil
	case TypeSSM:
		return NewSSMSink(awsCfg, sc.Name, WithParameterKMSKey(sc.KMSKeyID)), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}
