// punchcard es el CLI del empleado: sincroniza claves de firma, guarda la
// identidad local y genera tokens QR offline para fichar.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/paystubhq/punchcard/internal/keystore"
	"github.com/paystubhq/punchcard/internal/keysync"
	"github.com/paystubhq/punchcard/internal/observability/logger"
	"github.com/paystubhq/punchcard/internal/qrtoken"
	"github.com/paystubhq/punchcard/internal/security/seal"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var (
		stateDir  = defaultStateDir()
		baseURL   = envOr("PUNCHCARD_BASE_URL", "")
		authToken = envOr("PUNCHCARD_AUTH_TOKEN", "")
		out       = envOr("PUNCHCARD_OUT", "text")
	)

	logger.Init(logger.Config{
		Env:     "dev",
		Level:   envOr("PUNCHCARD_LOG_LEVEL", "warn"),
		Service: "punchcard",
		Version: version,
	})
	defer func() { _ = logger.Sync() }()

	root := &cobra.Command{
		Use:           "punchcard",
		Short:         "Generador offline de tokens QR para fichaje",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&stateDir, "state-dir", stateDir, "Directorio del bundle local (env PUNCHCARD_STATE_DIR)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "URL base del backend (env PUNCHCARD_BASE_URL)")
	root.PersistentFlags().StringVar(&authToken, "auth-token", authToken, "Bearer para el backend (env PUNCHCARD_AUTH_TOKEN)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	openStore := func() (*keystore.Store, error) {
		sealer, err := seal.FromEnv()
		if err != nil {
			return nil, fmt.Errorf("clave de sellado: %w", err)
		}
		opts := []keystore.Option{keystore.WithLogger(logger.Named("keystore"))}
		if sealer != nil {
			opts = append(opts, keystore.WithSealer(sealer))
		}
		return keystore.Open(stateDir, opts...), nil
	}

	// sync
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sincroniza el bundle de claves desde el backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				return fmt.Errorf("falta base URL (flag --base-url o env PUNCHCARD_BASE_URL)")
			}
			if authToken == "" {
				return fmt.Errorf("falta bearer (flag --auth-token o env PUNCHCARD_AUTH_TOKEN)")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			client := keysync.New(keysync.Config{BaseURL: baseURL}, st, keysync.WithLogger(logger.Named("keysync")))
			if err := client.Sync(cmd.Context(), authToken); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return printStatus(st, out)
		},
	}

	// bind
	var bindEmployee, bindDevice string
	bindCmd := &cobra.Command{
		Use:   "bind",
		Short: "Asocia identidad local: employee ID y/o device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bindEmployee == "" && bindDevice == "" {
				return fmt.Errorf("nada que asociar: use --employee-id y/o --device-key")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			if bindEmployee != "" {
				st.SetEmployeeID(bindEmployee)
			}
			if bindDevice != "" {
				st.SetDeviceKey(bindDevice)
			}
			fmt.Println("ok")
			return nil
		},
	}
	bindCmd.Flags().StringVar(&bindEmployee, "employee-id", "", "ID del empleado")
	bindCmd.Flags().StringVar(&bindDevice, "device-key", "", "Device key de este equipo")

	// mint
	var mintType string
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Genera un token QR offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := qrtoken.ParseAction(strings.ToUpper(mintType))
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			tok, err := qrtoken.NewMinter(st).Mint(action)
			if err != nil {
				return mintHint(err)
			}
			if out == "json" {
				claims, derr := qrtoken.DecodeToken(tok)
				if derr != nil {
					return derr
				}
				p, _ := json.MarshalIndent(map[string]any{
					"token":     tok,
					"type":      claims.Type,
					"timestamp": claims.Timestamp,
					"expiry":    claims.Expiry,
					"nonce":     claims.Nonce,
				}, "", "  ")
				fmt.Println(string(p))
				return nil
			}
			fmt.Println(tok)
			return nil
		},
	}
	mintCmd.Flags().StringVar(&mintType, "type", string(qrtoken.TimeIn), "Acción: TIME_IN|BREAK_IN|BREAK_OUT|TIME_OUT")

	// show
	var showType string
	var refresh time.Duration
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Muestra un token que rota antes de vencer (Ctrl-C para salir)",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := qrtoken.ParseAction(strings.ToUpper(showType))
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			minter := qrtoken.NewMinter(st)

			emit := func() error {
				tok, err := minter.Mint(action)
				if err != nil {
					return mintHint(err)
				}
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), tok)
				return nil
			}
			if err := emit(); err != nil {
				return err
			}

			t := time.NewTicker(refresh)
			defer t.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-t.C:
					if err := emit(); err != nil {
						return err
					}
				}
			}
		},
	}
	showCmd.Flags().StringVar(&showType, "type", string(qrtoken.TimeIn), "Acción: TIME_IN|BREAK_IN|BREAK_OUT|TIME_OUT")
	showCmd.Flags().DurationVar(&refresh, "refresh", 20*time.Second, "Intervalo de rotación (menor a la validez del token)")

	// status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Estado del bundle local",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			return printStatus(st, out)
		},
	}

	// clear
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Borra el bundle local (claves e identidad)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			st.Clear()
			fmt.Println("ok")
			return nil
		},
	}

	// keygen
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave de 32 bytes para " + seal.EnvMasterKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generar clave: %w", err)
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key))
			if out == "text" {
				fmt.Fprintf(os.Stderr, "exporte %s con este valor para sellar el bundle en disco\n", seal.EnvMasterKey)
			}
			return nil
		},
	}

	root.AddCommand(syncCmd, bindCmd, mintCmd, showCmd, statusCmd, clearCmd, keygenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// mintHint agrega a los errores de mint el comando que los destraba.
func mintHint(err error) error {
	switch {
	case errors.Is(err, qrtoken.ErrNoValidKey):
		return fmt.Errorf("%w: no hay clave vigente, corra `punchcard sync`", err)
	case errors.Is(err, qrtoken.ErrMissingIdentity):
		return fmt.Errorf("%w: falta identidad local, corra `punchcard sync` y/o `punchcard bind --device-key ...`", err)
	}
	return err
}

func printStatus(st *keystore.Store, out string) error {
	s := st.Status()
	if out == "json" {
		p, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(p))
		return nil
	}
	fmt.Printf("claves:       %d (%d vigentes)\n", s.TotalKeys, s.ValidKeys)
	fmt.Printf("employee id:  %v\n", s.HasEmployeeID)
	fmt.Printf("device key:   %v\n", s.HasDeviceKey)
	if s.LastSync > 0 {
		fmt.Printf("último sync:  %s\n", time.UnixMilli(s.LastSync).Format(time.RFC3339))
	}
	if s.NextWindow > 0 {
		fmt.Printf("próxima ventana: %s\n", time.UnixMilli(s.NextWindow).Format(time.RFC3339))
	}
	if s.Ready {
		fmt.Println("listo para generar tokens")
	} else {
		fmt.Println("NO listo: corra `punchcard sync`")
	}
	return nil
}

func defaultStateDir() string {
	if v := os.Getenv("PUNCHCARD_STATE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".punchcard"
	}
	return filepath.Join(home, ".punchcard")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
