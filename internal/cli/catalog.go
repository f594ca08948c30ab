package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/callguard/internal/catalog"
	"github.com/ppiankov/callguard/internal/infra/sqlite"
	"github.com/ppiankov/callguard/internal/policy"
	"github.com/ppiankov/callguard/internal/schema"
)

var (
	catalogFormat string
	catalogDB     string
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogSchemasCmd)
	catalogListCmd.Flags().StringVarP(&catalogFormat, "format", "f", "text", "Output format (text|json)")
	for _, c := range []*cobra.Command{catalogImportCmd, catalogSchemasCmd} {
		c.Flags().StringVar(&catalogDB, "db", "", "SQLite database path (default: catalog.path from config)")
	}
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Tool catalog operations",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog tools",
	Long:  "Lists tools from the configured catalog source (stub or sqlite).",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Import tools into the SQLite catalog",
	Long:  "Reads a YAML catalog seed (tools: [{id, name, ring}]) and upserts it\ninto the tool_catalog table. Migrations run first.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogImport,
}

var catalogSchemasCmd = &cobra.Command{
	Use:   "import-schemas <policy.yaml>",
	Short: "Import a policy file's schemas into the SQLite schema store",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogSchemas,
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	tools, err := e.Catalog().ListTools(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if catalogFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRING")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t.ID, t.Name, t.Ring)
	}
	return tw.Flush()
}

func catalogPath() (string, error) {
	path := catalogDB
	if path == "" {
		path = runtimeCfg.Catalog.Path
	}
	if path == "" {
		return "", fmt.Errorf("no database: pass --db or set catalog.path")
	}
	return path, nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	tools, err := catalog.LoadFile(args[0])
	if err != nil {
		return err
	}
	path, err := catalogPath()
	if err != nil {
		return err
	}
	db, err := sqlite.OpenMigrated(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := catalog.NewSQLCatalog(db, runtimeCfg.Timeouts.Catalog).Import(cmd.Context(), tools); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tools into %s\n", len(tools), path)
	return nil
}

func runCatalogSchemas(cmd *cobra.Command, args []string) error {
	cfg, err := policy.LoadConfig(args[0])
	if err != nil {
		return err
	}
	docs, err := cfg.SchemaDocuments()
	if err != nil {
		return err
	}
	path, err := catalogPath()
	if err != nil {
		return err
	}
	db, err := sqlite.OpenMigrated(path)
	if err != nil {
		return err
	}
	defer db.Close()

	store := schema.NewSQLStore(db)
	for ref, doc := range docs {
		if err := store.Put(cmd.Context(), ref, doc); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d schemas into %s\n", len(docs), path)
	return nil
}
