package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joeblew999/plat-ags/internal/mapservice"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/rpc"
	"github.com/joeblew999/plat-ags/internal/service"
	"github.com/joeblew999/plat-ags/internal/viewport"
)

// viewFlags describe a map service and a view onto it.
type viewFlags struct {
	url         string
	token       string
	layers      string
	layerOption string
	lng, lat    float64
	zoom        float64
	width       int
	height      int
	crs         string
	timeout     time.Duration
	yaml        bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	d := service.DefaultViewport()
	fl := cmd.Flags()
	fl.StringVar(&f.url, "url", "", "Map service root URL")
	fl.StringVar(&f.token, "token", "", "Access token")
	fl.StringVar(&f.layers, "layers", "", `Layers, e.g. "show:0,2" or "0,2"`)
	fl.StringVar(&f.layerOption, "layer-option", "", "Layer verb: show, hide, include or exclude")
	fl.Float64Var(&f.lng, "lng", d.Lng, "View center longitude")
	fl.Float64Var(&f.lat, "lat", d.Lat, "View center latitude")
	fl.Float64Var(&f.zoom, "zoom", d.Zoom, "View zoom level")
	fl.IntVar(&f.width, "width", d.Width, "View width in pixels")
	fl.IntVar(&f.height, "height", d.Height, "View height in pixels")
	fl.StringVar(&f.crs, "crs", d.CRS, "View coordinate reference system")
	fl.DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
	fl.BoolVarP(&f.yaml, "yaml", "y", false, "Output as YAML instead of JSON")
	cmd.MarkFlagRequired("url")
}

func (f *viewFlags) overlay() service.OverlayConfig {
	c := service.OverlayConfig{Name: "cli", URL: f.url, Token: f.token, LayerOption: f.layerOption}
	if f.layers != "" {
		c.Layers = f.layers
	}
	return c
}

func (f *viewFlags) viewport() service.ViewportConfig {
	return service.ViewportConfig{
		Lng: f.lng, Lat: f.lat, Zoom: f.zoom,
		Width: f.width, Height: f.height,
		CRS: f.crs,
	}
}

// exportResult is the output of export-url.
type exportResult struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func exportURLCmd() *cobra.Command {
	var (
		view  viewFlags
		fetch bool
	)
	cmd := &cobra.Command{
		Use:   "export-url",
		Short: "Print the export request for a view (--fetch also loads and decodes it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			def := view.overlay()
			var loader overlay.Loader = overlay.LoaderFunc(func(context.Context, string, func(*overlay.Decoded, error)) {})
			if fetch {
				loader = overlay.NewHTTPLoader(&http.Client{Timeout: view.timeout}, nil)
			}

			ov := overlay.New(mapservice.New(def.URL, def.ServiceOptions()), loader, overlay.NewMemoryPane(), def.OverlayOptions(nil))
			settled := make(chan overlay.Notification, 1)
			ov.OnNotify(func(n overlay.Notification) {
				if n.Kind == overlay.NotifySwap || n.Kind == overlay.NotifyFailed {
					select {
					case settled <- n:
					default:
					}
				}
			})
			if err := ov.Attach(view.viewport().NewMap()); err != nil {
				return err
			}
			defer ov.Detach()

			u, err := ov.ExportURL()
			if err != nil {
				return err
			}
			out := exportResult{URL: u}

			if fetch {
				select {
				case n := <-settled:
					if n.Err != nil {
						return n.Err
					}
					if cur := ov.Snapshot().Current; cur != nil && cur.Decoded != nil {
						out.Format = cur.Decoded.Format
						out.Width = cur.Decoded.Width
						out.Height = cur.Decoded.Height
					}
				case <-time.After(view.timeout):
					return fmt.Errorf("export timed out after %s", view.timeout)
				}
			}
			return printOutput(out, view.yaml)
		},
	}
	view.register(cmd)
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Load and decode the image")
	return cmd
}

func identifyCmd() *cobra.Command {
	var (
		view         viewFlags
		atLng, atLat float64
		tolerance    int
		layers       string
		asGeoJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify the features at a point of a view",
		RunE: func(cmd *cobra.Command, args []string) error {
			def := view.overlay()
			m := view.viewport().NewMap()
			svc := mapservice.New(def.URL, def.ServiceOptions())
			svc.SetSpatialReference(viewport.SpatialReference(m.CRS()))

			requests := rpc.NewManager(rpc.NewHTTPTransport(&http.Client{}), rpc.WithTimeout(view.timeout))
			defer requests.Close()

			at := m.Center()
			if cmd.Flags().Changed("at-lng") {
				at[0] = atLng
			}
			if cmd.Flags().Changed("at-lat") {
				at[1] = atLat
			}

			opts := mapservice.IdentifyOptions{Params: params.NewValues()}
			if tolerance > 0 {
				opts.Params.Set("tolerance", tolerance)
			}
			if layers != "" {
				opts.Params.Set("layers", layers)
			}

			resp, err := svc.IdentifyWait(cmd.Context(), requests, m.Bounds(), at, opts)
			if err != nil {
				return err
			}
			if asGeoJSON {
				return printOutput(resp.FeatureCollection(), view.yaml)
			}
			return printOutput(resp, view.yaml)
		},
	}
	view.register(cmd)
	cmd.Flags().Float64Var(&atLng, "at-lng", 0, "Longitude to identify (default view center)")
	cmd.Flags().Float64Var(&atLat, "at-lat", 0, "Latitude to identify (default view center)")
	cmd.Flags().IntVar(&tolerance, "tolerance", 0, "Search tolerance in pixels (default 3)")
	cmd.Flags().StringVar(&layers, "identify-layers", "", `Layers to identify, e.g. "all:0,1"`)
	cmd.Flags().BoolVar(&asGeoJSON, "geojson", false, "Output the results as a GeoJSON feature collection")
	return cmd
}
