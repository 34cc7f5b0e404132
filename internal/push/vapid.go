package push

import (
	"fmt"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatrelay/internal/logger"
)

// VAPIDKeys holds the server's Web Push key pair.
type VAPIDKeys struct {
	Public  string
	Private string
}

// EnsureVAPIDKeys loads the VAPID key pair from the environment, generating
// an ephemeral pair when none is configured. Generated keys are logged so a
// developer can pin them; subscriptions made against an ephemeral key stop
// working on restart.
func EnsureVAPIDKeys() (VAPIDKeys, error) {
	pub := os.Getenv("VAPID_PUBLIC_KEY")
	priv := os.Getenv("VAPID_PRIVATE_KEY")
	if pub != "" && priv != "" {
		return VAPIDKeys{Public: pub, Private: priv}, nil
	}
	if os.Getenv("APP_ENV") == "production" {
		return VAPIDKeys{}, fmt.Errorf("push.EnsureVAPIDKeys: set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY in production")
	}
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("push.EnsureVAPIDKeys: generate: %w", err)
	}
	logger.Infof("generated ephemeral VAPID keys (pin them via env to keep subscriptions):")
	logger.Infof("  VAPID_PUBLIC_KEY=%s", pub)
	logger.Infof("  VAPID_PRIVATE_KEY=%s", priv)
	return VAPIDKeys{Public: pub, Private: priv}, nil
}
