package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	appservice "petshop-provenance-ledger/internal/application/service"
	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/infrastructure/sealing"
	"petshop-provenance-ledger/pkg/utils"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"
)

var (
	okText   = color.New(color.FgGreen, color.Bold).SprintFunc()
	badText  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
	headText = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func verifyCommand(ctx context.Context, c *cli.Context, ledger *appservice.LedgerService) error {
	field, value := c.String(fieldFlag.Name), c.String(valueFlag.Name)
	if (field == "") != (value == "") {
		return fmt.Errorf("--field and --value must be given together")
	}

	started := time.Now()
	result, err := ledger.VerifyChain(ctx, field, value)
	if err != nil {
		return err
	}

	scope := "full chain"
	if field != "" {
		scope = fmt.Sprintf("%s = %s", field, value)
	}
	fmt.Printf("%s %s (%d blocks, %s)\n", headText("Verification:"), scope,
		result.TotalBlocks, utils.FormatDuration(time.Since(started)))

	if result.IsValid {
		fmt.Println(okText("VALID"), result.Message)
		return nil
	}

	fmt.Println(badText("INVALID"), result.Message)
	table := newTable("Index", "Hash", "Reason")
	for _, b := range result.InvalidBlocks {
		table.Append([]string{strconv.FormatInt(b.Index, 10), utils.TruncateString(b.Hash, 18), b.Reason})
	}
	table.Render()
	return cli.NewExitError("", 2)
}

func statsCommand(ctx context.Context, c *cli.Context, ledger *appservice.LedgerService) error {
	stats, err := ledger.GetStats(ctx)
	if err != nil {
		return err
	}

	table := newTable("Metric", "Value")
	table.Append([]string{"Total blocks", strconv.FormatInt(stats.TotalBlocks, 10)})
	table.Append([]string{"Algorithm", stats.Algorithm})
	table.Append([]string{"Difficulty", strconv.Itoa(stats.Difficulty)})
	if stats.LatestBlock != nil {
		table.Append([]string{"Latest block", fmt.Sprintf("#%d %s", stats.LatestBlock.Index, utils.TruncateString(stats.LatestBlock.Hash, 18))})
	}
	if stats.FirstBlockDate != nil {
		table.Append([]string{"First block", stats.FirstBlockDate.Format(time.RFC3339)})
	}
	if stats.LastBlockDate != nil {
		table.Append([]string{"Last block", stats.LastBlockDate.Format(time.RFC3339)})
	}
	table.Render()

	if len(stats.EventTypes) == 0 {
		return nil
	}
	fmt.Println()
	types := newTable("Event type", "Count", "Share")
	for _, et := range stats.EventTypes {
		share := utils.CalculatePercentage(et.Count, stats.TotalBlocks)
		types.Append([]string{et.ID, strconv.FormatInt(et.Count, 10), fmt.Sprintf("%.1f%%", share)})
	}
	types.Render()
	return nil
}

func historyCommand(ctx context.Context, c *cli.Context, ledger *appservice.LedgerService) error {
	petCode := c.Args().First()
	if petCode == "" {
		return fmt.Errorf("usage: ledgerctl history <petCode>")
	}

	history, err := ledger.GetPetHistory(ctx, petCode)
	if err != nil {
		return err
	}
	if history.TotalEvents == 0 {
		fmt.Println(dimText(entity.ErrNoPetRecords))
		return nil
	}

	fmt.Printf("%s %s (%d events)\n", headText("Pet:"), history.PetCode, history.TotalEvents)
	table := newTable("Index", "Timestamp", "Event", "Hash", "Nonce")
	for _, e := range history.History {
		table.Append([]string{
			strconv.FormatInt(e.Index, 10),
			e.Timestamp.Format(time.RFC3339),
			string(e.EventType),
			utils.TruncateString(e.Hash, 18),
			strconv.FormatInt(e.Nonce, 10),
		})
	}
	table.Render()
	return nil
}

func certificateCommand(ctx context.Context, c *cli.Context, ledger *appservice.LedgerService) error {
	petCode := c.Args().First()
	if petCode == "" {
		return fmt.Errorf("usage: ledgerctl certificate <petCode>")
	}

	cert, err := ledger.GetVerificationCertificate(ctx, petCode)
	if err != nil {
		return err
	}
	if cert.Error != "" {
		return cli.NewExitError(cert.Error, 3)
	}

	status := okText(cert.Certificate.Status)
	if cert.Certificate.Status != entity.CertificateVerified {
		status = badText(cert.Certificate.Status)
	}

	table := newTable("Field", "Value")
	table.Append([]string{"Certificate", cert.Certificate.ID})
	table.Append([]string{"Issued at", cert.Certificate.IssuedAt.Format(time.RFC3339)})
	table.Append([]string{"Pet", cert.PetCode})
	table.Append([]string{"Events", strconv.Itoa(cert.TotalEvents)})
	table.Append([]string{"First event", fmt.Sprintf("#%d %s", cert.FirstEvent.Index, cert.FirstEvent.EventType)})
	table.Append([]string{"Latest event", fmt.Sprintf("#%d %s", cert.LatestEvent.Index, cert.LatestEvent.EventType)})
	table.Append([]string{"Verification", cert.Verification.Message})
	table.Render()
	fmt.Println("Status:", status)
	return nil
}

func keygenCommand(c *cli.Context) error {
	keyHex, signer, err := sealing.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(headText("Signer:"), signer)
	fmt.Println(headText("Key:   "), keyHex)
	fmt.Println(dimText("Set LEDGER_SEALING_KEY to the key to seal new records."))
	return nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
