package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/casematch/internal/api"
	"github.com/kalambet/casematch/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <case-id> <file>...",
	Short: "Upload media files into a case and queue them for processing",
	Long: `Upload media files into a case and queue them for processing.

Examples:
  casematch ingest case-42 ./scene1.jpg ./scene2.jpg
  casematch ingest case-42 ./cctv/*.mp4`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		caseID := args[0]
		failed := 0
		for _, path := range args[1:] {
			printStep("Uploading %s", path)
			var queued api.QueuedResponse
			if err := client.upload(cmd.Context(), caseID, path, &queued); err != nil {
				printError("%s: %v", path, err)
				failed++
				continue
			}
			printSuccess("Queued media %s (job %s)", queued.ID, queued.JobID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(args)-1)
		}
		return nil
	},
}

// --- match ---

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Search the corpus for similar media or faces",
}

var matchImagesCmd = &cobra.Command{
	Use:   "images <media-id>",
	Short: "Find images matching a processed image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.ImageMatchRequest{MediaID: args[0]}
		req.MatchType, _ = cmd.Flags().GetString("type")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			req.Threshold = &th
		}
		return postAndPrint(cmd, "/match/images", req)
	},
}

var matchVideosCmd = &cobra.Command{
	Use:   "videos <media-id>",
	Short: "Find videos matching a processed video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.VideoMatchRequest{MediaID: args[0]}
		req.Limit, _ = cmd.Flags().GetInt("limit")
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			req.Threshold = &th
		}
		return postAndPrint(cmd, "/match/videos", req)
	},
}

var matchFacesCmd = &cobra.Command{
	Use:   "faces <face-id>",
	Short: "Find faces similar to a detected face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if caseID, _ := cmd.Flags().GetString("case"); caseID != "" {
			q.Set("case_id", caseID)
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			q.Set("threshold", strconv.FormatFloat(th, 'f', -1, 64))
		}
		path := "/faces/" + url.PathEscape(args[0]) + "/similar"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return getAndPrint(cmd, path)
	},
}

var compareVideosCmd = &cobra.Command{
	Use:   "compare-videos <media-id-1> <media-id-2>",
	Short: "Compare two processed videos",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndPrint(cmd, "/videos/compare", api.VideoCompareRequest{MediaID1: args[0], MediaID2: args[1]})
	},
}

func init() {
	for _, c := range []*cobra.Command{matchImagesCmd, matchVideosCmd, matchFacesCmd} {
		c.Flags().Float64("threshold", 0, "match threshold (server default when unset)")
		c.Flags().Int("limit", 0, "maximum number of results")
	}
	matchImagesCmd.Flags().String("type", "combined", "match type: color, orb or combined")
	matchFacesCmd.Flags().String("case", "", "restrict the search to one case")
	matchCmd.AddCommand(matchImagesCmd, matchVideosCmd, matchFacesCmd, compareVideosCmd)
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Group stored faces into likely identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req api.ClusterRequest
		req.CaseID, _ = cmd.Flags().GetString("case")
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			req.Threshold = &th
		}
		return postAndPrint(cmd, "/faces/cluster", req)
	},
}

func init() {
	clusterCmd.Flags().String("case", "", "restrict clustering to one case")
	clusterCmd.Flags().Float64("threshold", 0, "seed distance threshold (server default when unset)")
}

// --- watchlists ---

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage watchlists",
}

var watchlistCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.WatchlistRequest{Name: args[0]}
		req.Description, _ = cmd.Flags().GetString("description")
		if cmd.Flags().Changed("no-alerts") {
			noAlerts, _ := cmd.Flags().GetBool("no-alerts")
			alert := !noAlerts
			req.AlertOnMatch = &alert
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var wl api.WatchlistResponse
		if err := client.postJSON(cmd.Context(), "/watchlists", req, &wl); err != nil {
			return err
		}
		printSuccess("Created watchlist %s (%s)", wl.Name, wl.ID)
		return nil
	},
}

var watchlistAddFaceCmd = &cobra.Command{
	Use:   "add-face <watchlist-id> <face-id>",
	Short: "Add a detected face to a watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.EntryFromFaceRequest{FaceID: args[1]}
		req.Name, _ = cmd.Flags().GetString("name")
		req.Notes, _ = cmd.Flags().GetString("notes")
		req.Scan, _ = cmd.Flags().GetBool("scan")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var entry api.EntryResponse
		path := "/watchlists/" + url.PathEscape(args[0]) + "/entries/from-face"
		if err := client.postJSON(cmd.Context(), path, req, &entry); err != nil {
			return err
		}
		printSuccess("Added entry %s to watchlist %s", entry.ID, entry.WatchlistID)
		if entry.ScanJobID != "" {
			printStatus("Scan job", "%s", entry.ScanJobID)
		}
		return nil
	},
}

func init() {
	watchlistCreateCmd.Flags().String("description", "", "watchlist description")
	watchlistCreateCmd.Flags().Bool("no-alerts", false, "record matches without raising alerts")
	watchlistAddFaceCmd.Flags().String("name", "", "entry name (defaults to the face's identity)")
	watchlistAddFaceCmd.Flags().String("notes", "", "free-form notes")
	watchlistAddFaceCmd.Flags().Bool("scan", false, "scan every stored face against the new entry")
	watchlistCmd.AddCommand(watchlistCreateCmd, watchlistAddFaceCmd)
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Check faces against active watchlists",
}

var scanMediaCmd = &cobra.Command{
	Use:   "media <media-id>",
	Short: "Scan one media item now and print the matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndPrint(cmd, "/media/"+url.PathEscape(args[0])+"/watchlist-scan", nil)
	},
}

var scanCaseCmd = &cobra.Command{
	Use:   "case <case-id>",
	Short: "Queue a scan of every processed media item in a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var queued api.QueuedResponse
		if err := client.postJSON(cmd.Context(), "/cases/"+url.PathEscape(args[0])+"/watchlist-scan", nil, &queued); err != nil {
			return err
		}
		printSuccess("Queued case scan (job %s)", queued.JobID)
		return nil
	},
}

func init() {
	scanCmd.AddCommand(scanMediaCmd, scanCaseCmd)
}

// --- alerts ---

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List watchlist alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if caseID, _ := cmd.Flags().GetString("case"); caseID != "" {
			q.Set("case_id", caseID)
		}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			q.Set("status", status)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var alerts []api.AlertResponse
		if err := client.getJSON(cmd.Context(), "/alerts?"+q.Encode(), &alerts); err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-6s  %-8s  %.2f  %s  case=%s media=%s\n",
				a.CreatedAt.Format("2006-01-02 15:04"), a.Severity, a.Status, a.MatchConfidence, a.Title, a.CaseID, a.MediaID)
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().String("case", "", "filter by case")
	alertsCmd.Flags().String("status", "", "filter by status")
	alertsCmd.Flags().Int("limit", 20, "maximum number of alerts")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

// --- helpers ---

func getAndPrint(cmd *cobra.Command, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var out any
	if err := client.getJSON(cmd.Context(), path, &out); err != nil {
		return err
	}
	return writeIndented(cmd.OutOrStdout(), out)
}

func postAndPrint(cmd *cobra.Command, path string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var out any
	if err := client.postJSON(cmd.Context(), path, body, &out); err != nil {
		return err
	}
	return writeIndented(cmd.OutOrStdout(), out)
}
