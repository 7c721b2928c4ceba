package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/internal/wire"
)

func decodeHex(name, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", name, size, len(b))
	}
	return b, nil
}

func parseTEKFlag(s string) (domain.TEK, error) {
	var tek domain.TEK
	b, err := decodeHex("--tek", s, domain.KeySize)
	if err != nil {
		return tek, err
	}
	copy(tek.Value[:], b)
	return tek, nil
}

// deriveResult はderiveコマンドの出力形式。
type deriveResult struct {
	TEK      string `json:"tek"`
	ENIN     uint32 `json:"enin"`
	RPIK     string `json:"rpik"`
	AEMK     string `json:"aemk"`
	RPI      string `json:"rpi"`
	Metadata string `json:"metadata"`
	AEM      string `json:"aem"`
	Frame    string `json:"frame"`
}

// deriveCmd はTEKから鍵とペイロードを導出するコマンド。
func deriveCmd() *cobra.Command {
	var tekHex string
	var enin uint32
	var txPower int8
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive RPIK, AEMK, RPI, AEM and the advertising frame from a TEK",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tek domain.TEK
			if tekHex == "" {
				// 未指定の場合は新しいTEKを生成する
				epoch := tracer.Epoch(time.Now())
				generated, err := tracer.NewTEKRing(1, nil).Rotate(epoch)
				if err != nil {
					return err
				}
				tek = generated
				if !cmd.Flags().Changed("enin") {
					enin = tracer.DefaultSchedule().ENIntervalNumber(epoch)
				}
			} else {
				var err error
				if tek, err = parseTEKFlag(tekHex); err != nil {
					return err
				}
			}

			kp := tracer.DeriveKeyPair(tek)
			md := tracer.DeriveMetadata(txPower)
			pair := tracer.DeriveDataPair(kp, enin, md)
			res := deriveResult{
				TEK:      tek.String(),
				ENIN:     enin,
				RPIK:     hex.EncodeToString(kp.RPIK[:]),
				AEMK:     hex.EncodeToString(kp.AEMK[:]),
				RPI:      pair.RPI.String(),
				Metadata: hex.EncodeToString(md[:]),
				AEM:      hex.EncodeToString(pair.AEM[:]),
				Frame:    hex.EncodeToString(wire.Encode(pair)),
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TEK\t%s\n", res.TEK)
			fmt.Fprintf(w, "ENIN\t%d\n", res.ENIN)
			fmt.Fprintf(w, "RPIK\t%s\n", res.RPIK)
			fmt.Fprintf(w, "AEMK\t%s\n", res.AEMK)
			fmt.Fprintf(w, "RPI\t%s\n", res.RPI)
			fmt.Fprintf(w, "METADATA\t%s\n", res.Metadata)
			fmt.Fprintf(w, "AEM\t%s\n", res.AEM)
			fmt.Fprintf(w, "FRAME\t%s\n", res.Frame)
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tekHex, "tek", "", "TEK as 32 hex characters (generated when omitted)")
	cmd.Flags().Uint32Var(&enin, "enin", 0, "EN interval number")
	cmd.Flags().Int8Var(&txPower, "tx-power", 0, "Transmit power in dBm stored in the metadata")
	return cmd
}

// parseCmd はアドバタイズフレームからRPIとAEMを取り出すコマンド。
func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FRAME",
		Short: "Extract the RPI and AEM from an advertising frame given in hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := decodeHex("frame", args[0], 0)
			if err != nil {
				return err
			}
			pair, ok := wire.Parse(frame)
			if !ok {
				return fmt.Errorf("frame does not carry an exposure notification payload")
			}

			rpi, aem := pair.RPI.String(), hex.EncodeToString(pair.AEM[:])
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"rpi": rpi, "aem": aem})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "RPI %s\nAEM %s\n", rpi, aem)
			return nil
		},
	}
}

// verifyCmd はDataPairがTEKから導出されたものか確認するコマンド。
func verifyCmd() *cobra.Command {
	var tekHex, frameHex, rpiHex, aemHex string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether an observed frame or RPI/AEM pair was derived from a TEK",
		RunE: func(cmd *cobra.Command, args []string) error {
			tek, err := parseTEKFlag(tekHex)
			if err != nil {
				return err
			}

			var pair domain.DataPair
			switch {
			case frameHex != "":
				frame, err := decodeHex("--frame", frameHex, 0)
				if err != nil {
					return err
				}
				var ok bool
				if pair, ok = wire.Parse(frame); !ok {
					return fmt.Errorf("frame does not carry an exposure notification payload")
				}
			case rpiHex != "" && aemHex != "":
				rpi, err := decodeHex("--rpi", rpiHex, domain.KeySize)
				if err != nil {
					return err
				}
				aem, err := decodeHex("--aem", aemHex, domain.MetadataSize)
				if err != nil {
					return err
				}
				copy(pair.RPI[:], rpi)
				copy(pair.AEM[:], aem)
			default:
				return fmt.Errorf("--frame or both --rpi and --aem are required")
			}

			enin, md, ok := tracer.Verify(pair, tek)
			if output == "json" {
				res := map[string]any{"match": ok}
				if ok {
					major, minor := md.Version()
					res["enin"] = enin
					res["metadata"] = hex.EncodeToString(md[:])
					res["version"] = fmt.Sprintf("%d.%d", major, minor)
					res["tx_power"] = md.TxPower()
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			major, minor := md.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "match enin=%d version=%d.%d tx_power=%d\n", enin, major, minor, md.TxPower())
			return nil
		},
	}
	cmd.Flags().StringVar(&tekHex, "tek", "", "TEK as 32 hex characters (required)")
	cmd.Flags().StringVar(&frameHex, "frame", "", "Advertising frame in hex")
	cmd.Flags().StringVar(&rpiHex, "rpi", "", "RPI as 32 hex characters")
	cmd.Flags().StringVar(&aemHex, "aem", "", "AEM as 8 hex characters")
	cmd.MarkFlagRequired("tek")
	return cmd
}
