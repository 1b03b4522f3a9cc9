package mission

import (
	"archive/zip"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wkrawczyk/dronefield/internal/route"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// WPMLCompiler is the in-process mission compiler. It writes the KMZ
// container directly: a ZIP archive holding wpmz/template.kml (the planning
// template) and wpmz/waylines.wpml (the executable wayline document the
// aircraft reads).
type WPMLCompiler struct {
	author   string
	defaults Defaults
	logger   *logger.Logger
}

// NewWPMLCompiler creates a compiler stamping containers with the given
// author string. Defaults fill in height/speed for waypoints without them
// when converting from bare KML.
func NewWPMLCompiler(author string, defaults Defaults, log *logger.Logger) *WPMLCompiler {
	return &WPMLCompiler{
		author:   author,
		defaults: defaults,
		logger:   log.Named("wpml-compiler"),
	}
}

// ConvertKMLToKMZ parses the route KML and generates the mission container
// with the default mission configuration.
func (c *WPMLCompiler) ConvertKMLToKMZ(kmlPath, outPath, heightMode string) error {
	f, err := os.Open(kmlPath)
	if err != nil {
		return fmt.Errorf("failed to open route KML: %w", err)
	}
	defer f.Close()

	points, err := route.ParseKML(f)
	if err != nil {
		return err
	}
	if len(points) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientWaypoints, len(points))
	}

	now := time.Now().UnixMilli()
	meta := Meta{Author: c.author, CreateTime: now, UpdateTime: now}
	cfg := DefaultConfig(c.defaults.SpeedMps, c.defaults.HeightM)

	c.logger.Debug("Converting route KML to mission container",
		logger.String("kml", kmlPath),
		logger.String("out", outPath),
		logger.String("height_mode", heightMode),
		logger.Int("waypoints", len(points)))

	return c.GenerateMissionFile(outPath, meta, cfg, points)
}

// GenerateMissionFile writes the container. The write is all-or-nothing: on
// any error the partially written file is removed.
func (c *WPMLCompiler) GenerateMissionFile(outPath string, meta Meta, cfg Config, waypoints []route.Waypoint) error {
	if len(waypoints) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientWaypoints, len(waypoints))
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create mission container: %w", err)
	}

	zw := zip.NewWriter(out)
	werr := func() error {
		tpl, err := zw.Create("wpmz/template.kml")
		if err != nil {
			return err
		}
		if _, err := tpl.Write([]byte(c.renderTemplate(meta, cfg, waypoints))); err != nil {
			return err
		}
		wl, err := zw.Create("wpmz/waylines.wpml")
		if err != nil {
			return err
		}
		if _, err := wl.Write([]byte(c.renderWaylines(meta, cfg, waypoints))); err != nil {
			return err
		}
		return zw.Close()
	}()

	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to write mission container: %w", werr)
	}
	return nil
}

// ValidateMission reuses the structural validator and reports its message.
func (c *WPMLCompiler) ValidateMission(kmzPath string) (string, error) {
	res, err := Validate(kmzPath)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

const wpmlNamespace = "http://www.dji.com/wpmz/1.0.2"

// renderWaylines produces the wpmz/waylines.wpml document: mission config
// block plus one Placemark per waypoint. The coordinate order inside
// Placemark/Point is lon,lat.
func (c *WPMLCompiler) renderWaylines(meta Meta, cfg Config, waypoints []route.Waypoint) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:wpml="%s">`+"\n", wpmlNamespace)
	b.WriteString("<Document>\n")
	fmt.Fprintf(&b, "<wpml:author>%s</wpml:author>\n", escapeXML(meta.Author))
	fmt.Fprintf(&b, "<wpml:createTime>%d</wpml:createTime>\n", meta.CreateTime)
	fmt.Fprintf(&b, "<wpml:updateTime>%d</wpml:updateTime>\n", meta.UpdateTime)

	b.WriteString("<wpml:missionConfig>\n")
	fmt.Fprintf(&b, "<wpml:flyToWaylineMode>%s</wpml:flyToWaylineMode>\n", cfg.FlyToWaylineMode)
	fmt.Fprintf(&b, "<wpml:finishAction>%s</wpml:finishAction>\n", cfg.FinishAction)
	fmt.Fprintf(&b, "<wpml:exitOnRCLost>%s</wpml:exitOnRCLost>\n", cfg.ExitOnRCLost)
	fmt.Fprintf(&b, "<wpml:executeRCLostAction>%s</wpml:executeRCLostAction>\n", cfg.ExecuteRCLostAction)
	fmt.Fprintf(&b, "<wpml:takeOffSecurityHeight>%g</wpml:takeOffSecurityHeight>\n", cfg.TakeoffSecurityHeightM)
	fmt.Fprintf(&b, "<wpml:globalTransitionalSpeed>%g</wpml:globalTransitionalSpeed>\n", cfg.GlobalTransitionSpeed)
	fmt.Fprintf(&b, "<wpml:globalRTHHeight>%g</wpml:globalRTHHeight>\n", cfg.GlobalRTHHeightM)
	b.WriteString("<wpml:droneInfo>\n")
	fmt.Fprintf(&b, "<wpml:droneEnumValue>%d</wpml:droneEnumValue>\n", cfg.DroneEnumValue)
	fmt.Fprintf(&b, "<wpml:droneSubEnumValue>%d</wpml:droneSubEnumValue>\n", cfg.DroneSubEnumValue)
	b.WriteString("</wpml:droneInfo>\n")
	b.WriteString("</wpml:missionConfig>\n")

	b.WriteString("<Folder>\n")
	b.WriteString("<wpml:templateId>0</wpml:templateId>\n")
	fmt.Fprintf(&b, "<wpml:executeHeightMode>%s</wpml:executeHeightMode>\n", HeightModeRelative)
	b.WriteString("<wpml:waylineId>0</wpml:waylineId>\n")
	fmt.Fprintf(&b, "<wpml:autoFlightSpeed>%g</wpml:autoFlightSpeed>\n", cfg.GlobalTransitionSpeed)

	for i, p := range waypoints {
		height := c.defaults.HeightM
		if p.AltMeters != nil {
			height = *p.AltMeters
		}
		speed := cfg.GlobalTransitionSpeed
		if p.SpeedMps != nil {
			speed = *p.SpeedMps
		}
		b.WriteString("<Placemark>\n")
		fmt.Fprintf(&b, "<Point>\n<coordinates>%.10f,%.10f</coordinates>\n</Point>\n", p.Lon, p.Lat)
		fmt.Fprintf(&b, "<wpml:index>%d</wpml:index>\n", i)
		fmt.Fprintf(&b, "<wpml:executeHeight>%g</wpml:executeHeight>\n", height)
		fmt.Fprintf(&b, "<wpml:waypointSpeed>%g</wpml:waypointSpeed>\n", speed)
		b.WriteString("<wpml:waypointTurnParam>\n")
		fmt.Fprintf(&b, "<wpml:waypointTurnMode>%s</wpml:waypointTurnMode>\n", cfg.TurnMode)
		b.WriteString("<wpml:waypointTurnDampingDist>0</wpml:waypointTurnDampingDist>\n")
		b.WriteString("</wpml:waypointTurnParam>\n")
		b.WriteString("<wpml:useStraightLine>1</wpml:useStraightLine>\n")
		b.WriteString("</Placemark>\n")
	}

	b.WriteString("</Folder>\n")
	b.WriteString("</Document>\n")
	b.WriteString("</kml>\n")
	return b.String()
}

// renderTemplate produces the wpmz/template.kml planning document. The
// aircraft executes waylines.wpml; the template mirrors the route for
// planning tools that re-open the container.
func (c *WPMLCompiler) renderTemplate(meta Meta, cfg Config, waypoints []route.Waypoint) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:wpml="%s">`+"\n", wpmlNamespace)
	b.WriteString("<Document>\n")
	fmt.Fprintf(&b, "<wpml:author>%s</wpml:author>\n", escapeXML(meta.Author))
	fmt.Fprintf(&b, "<wpml:createTime>%d</wpml:createTime>\n", meta.CreateTime)
	fmt.Fprintf(&b, "<wpml:updateTime>%d</wpml:updateTime>\n", meta.UpdateTime)
	b.WriteString("<Folder>\n")
	b.WriteString("<wpml:templateType>waypoint</wpml:templateType>\n")
	b.WriteString("<wpml:templateId>0</wpml:templateId>\n")
	for i, p := range waypoints {
		height := c.defaults.HeightM
		if p.AltMeters != nil {
			height = *p.AltMeters
		}
		b.WriteString("<Placemark>\n")
		fmt.Fprintf(&b, "<Point>\n<coordinates>%.10f,%.10f</coordinates>\n</Point>\n", p.Lon, p.Lat)
		fmt.Fprintf(&b, "<wpml:index>%d</wpml:index>\n", i)
		fmt.Fprintf(&b, "<wpml:height>%g</wpml:height>\n", height)
		b.WriteString("</Placemark>\n")
	}
	b.WriteString("</Folder>\n")
	b.WriteString("</Document>\n")
	b.WriteString("</kml>\n")
	return b.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
