package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tokensale/crypto"
	"tokensale/native/presale"
	presalestate "tokensale/state/presale"
	"tokensale/storage"
)

type accountRow struct {
	Address    string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	Display    string `parquet:"name=display, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tokens     string `parquet:"name=tokens, type=BYTE_ARRAY, convertedtype=UTF8"`
	Settlement string `parquet:"name=settlement, type=BYTE_ARRAY, convertedtype=UTF8"`
	Deposits   string `parquet:"name=deposits, type=BYTE_ARRAY, convertedtype=UTF8"`
	Methods    int32  `parquet:"name=methods, type=INT32"`
}

func runExport(args []string, out io.Writer) error {
	flags := newFlagSet("export")
	dataDir := flags.String("data-dir", "", "presaled data directory (the daemon must be stopped)")
	output := flags.String("out", "accounts.parquet", "Output parquet file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("data-dir", *dataDir); err != nil {
		return err
	}
	ledgerPath := filepath.Join(*dataDir, "ledger")
	if _, err := os.Stat(ledgerPath); err != nil {
		return fmt.Errorf("ledger %s: %w", ledgerPath, err)
	}
	db, err := storage.NewLevelDB(ledgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	rows, err := collectAccounts(presalestate.NewStore(db))
	if err != nil {
		return err
	}
	if err := writeAccountsParquet(*output, rows); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d accounts to %s\n", len(rows), *output)
	return nil
}

func collectAccounts(store *presalestate.Store) ([]*accountRow, error) {
	sale, ok, err := store.PresaleSale()
	if err != nil {
		return nil, fmt.Errorf("load sale: %w", err)
	}
	if !ok {
		return nil, presale.ErrNotInitialized
	}
	var rows []*accountRow
	err = store.PresaleAccounts(func(acc *presale.Account) bool {
		deposits := make(map[string]string)
		for _, method := range sale.PaymentMethods {
			amount := acc.Deposit(method.Index)
			if amount.Sign() > 0 {
				deposits[method.Reference.Hex()] = amount.String()
			}
		}
		encoded, _ := json.Marshal(deposits)
		rows = append(rows, &accountRow{
			Address:    acc.Address.Hex(),
			Display:    crypto.SaleAddress(acc.Address),
			Tokens:     acc.Tokens.String(),
			Settlement: acc.Settlement.String(),
			Deposits:   string(encoded),
			Methods:    int32(len(deposits)),
		})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return rows, nil
}

func writeAccountsParquet(path string, rows []*accountRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(accountRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
