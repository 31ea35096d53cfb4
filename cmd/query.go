package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/resthub/pkg/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// ErrUnknownFormat is returned for an unsupported --format
	ErrUnknownFormat = errors.New("unknown format, expected one of table, json, xml, csv, xlsx")
	// ErrOutputRequired is returned when a binary format would go to a terminal
	ErrOutputRequired = errors.New("xlsx output needs --output")
)

// columnSectionRows is the number of CSV records describing the columns
const columnSectionRows = 3

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	serverURL    string
	queryFormat  string
	queryOutput  string
	queryParams  map[string]string
	queryPage    int
	queryPerPage int
	queryCount   bool
	queryKeep    bool
)

//nolint:gochecknoglobals // Cobra commands are typically global
var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a SELECT statement through a resthub server",
	Long: `Submits the statement, prints its result and deletes it again unless --keep
is given. Parameters named :name in the statement are bound from --param.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "List the queries registered on a resthub server",
	RunE:  runQueries,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List the namespaces and tables of a resthub server",
	RunE:  runNamespaces,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, queriesCmd, namespacesCmd} {
		c.Flags().StringVar(&serverURL, "url", "", "resthub server URL (overrides the client config)")
		rootCmd.AddCommand(c)
	}

	queryCmd.Flags().StringVarP(&queryFormat, "format", "f", "table", "output format: table, json, xml, csv, xlsx")
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "", "write the result to a file")
	queryCmd.Flags().StringToStringVarP(&queryParams, "param", "p", nil, "statement parameter as name=value")
	queryCmd.Flags().IntVar(&queryPerPage, "page-size", 0, "rows per page (0 for all rows)")
	queryCmd.Flags().IntVar(&queryPage, "page", 0, "page number, starting at 1")
	queryCmd.Flags().BoolVar(&queryCount, "count", false, "print the number of rows only")
	queryCmd.Flags().BoolVar(&queryKeep, "keep", false, "keep the query registered and print its id")
}

// connect loads the client config and creates the server client
func connect(cmd *cobra.Command) (*client.Server, error) {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := LoadCLIConfig(cliCfgFile)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.URL = serverURL
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, validationErr
	}

	if !cmd.Flags().Changed("log-level") {
		if level, err := logrus.ParseLevel(cfg.Logging); err == nil {
			logger.SetLevel(level)
		}
	}

	return cfg.Server()
}

func runQuery(cmd *cobra.Command, args []string) error {
	server, err := connect(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	h := server.NewQuery(args[0], queryParams)

	if queryKeep {
		id, err := h.Bind(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), id)
	} else {
		defer func() {
			if err := h.Delete(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("Failed to delete query")
			}
		}()
	}

	if queryCount {
		n, truncated, err := h.Count(ctx)
		if err != nil {
			return err
		}
		warnTruncated(truncated)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)

		return nil
	}

	opts := []client.FetchOption{client.WithPage(queryPerPage, queryPage)}

	out := cmd.OutOrStdout()
	if queryOutput != "" {
		f, err := os.Create(queryOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch strings.ToLower(queryFormat) {
	case "table":
		return printTable(ctx, out, h, opts)
	case "json":
		return printRaw(ctx, out, h, client.MediaTypeJSON, opts)
	case "xml":
		return printRaw(ctx, out, h, client.MediaTypeXML, opts)
	case "csv":
		return printRaw(ctx, out, h, client.MediaTypeCSV, opts)
	case "xlsx":
		if queryOutput == "" {
			return ErrOutputRequired
		}
		return printRaw(ctx, out, h, client.MediaTypeXLSX, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, queryFormat)
	}
}

func printRaw(ctx context.Context, out io.Writer, h *client.QueryHandle, mediaType string, opts []client.FetchOption) error {
	data, err := h.Data(ctx, mediaType, opts...)
	if err != nil {
		return err
	}
	warnTruncated(data.Truncated)

	_, err = out.Write(data.Body)

	return err
}

// printTable renders the CSV encoding, column section included, as aligned
// columns headed by the wire names
func printTable(ctx context.Context, out io.Writer, h *client.QueryHandle, opts []client.FetchOption) error {
	data, err := h.Data(ctx, client.MediaTypeCSV, append(opts, client.WithColumns())...)
	if err != nil {
		return err
	}
	warnTruncated(data.Truncated)

	records, err := client.DecodeCSV(data)
	if err != nil {
		return err
	}
	if len(records) < columnSectionRows {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(records[columnSectionRows-1], "\t"))
	for _, record := range records[columnSectionRows:] {
		_, _ = fmt.Fprintln(w, strings.Join(record, "\t"))
	}

	return w.Flush()
}

func warnTruncated(truncated bool) {
	if truncated {
		logger.Warn("Result was truncated at the rows limit")
	}
}

func runQueries(cmd *cobra.Command, _ []string) error {
	server, err := connect(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	ids, err := server.QueryIDs(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY")
	for _, id := range ids {
		h, err := server.QueryHandle(ctx, id)
		if errors.Is(err, client.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", id, strings.Join(strings.Fields(h.SQL()), " "))
	}

	return w.Flush()
}

func runNamespaces(cmd *cobra.Command, _ []string) error {
	server, err := connect(cmd)
	if err != nil {
		return err
	}

	namespaces, err := server.Namespaces(cmd.Context())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		names = append(names, ns)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tTABLES")
	for _, ns := range names {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", ns, strings.Join(namespaces[ns].Tables, ", "))
	}

	return w.Flush()
}
