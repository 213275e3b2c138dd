// Command make_call places a test outbound call through the configured
// Twilio account, pointing it at the bridge's voice webhook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/bridge"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/configutil"
	twiliotransport "github.com/kduflopro-arch/ws-media-stream-server/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if cfg.Transport.Kind != "twilio" {
		fmt.Println("transport.kind must be twilio, got:", cfg.Transport.Kind)
		os.Exit(1)
	}
	var settings twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}

	dialer := twiliotransport.NewDialer(settings)
	callSID, err := dialer.Dial(context.Background(), *to, *from, *voiceURL)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
