package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/cli"
	"github.com/calder-ai/modelgate/internal/llm"
)

const bootstrapProbeTimeout = 5 * time.Second

// Bootstrap applies the startup descriptor and probes the backend once.
// A bad descriptor is fatal; a failed probe is not, because the state
// machine already reports the error and the gateway can recover on a
// later connection test.
func Bootstrap(ctx context.Context, svc Service, d llm.Descriptor, log *zap.Logger) error {
	if err := svc.Reconfigure(ctx, d); err != nil {
		return err
	}

	if !d.Enabled {
		log.Warn(fmt.Sprintf("%s %s",
			cli.WarningSign(),
			cli.Style("Gateway disabled by configuration, requests will be rejected", cli.Yellow)))
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, bootstrapProbeTimeout)
	defer cancel()

	if err := svc.TestConnection(probeCtx); err != nil {
		log.Warn(fmt.Sprintf("%s %s",
			cli.CrossMark(),
			cli.Style(fmt.Sprintf("Backend %s unreachable at startup", d.Kind), cli.Yellow)),
			zap.Error(err))
		return nil
	}

	log.Info(fmt.Sprintf("%s %s",
		cli.CheckMark(),
		cli.Style(fmt.Sprintf("Backend %s ready (model %s)", d.Kind, d.Model), cli.Green)))
	return nil
}
