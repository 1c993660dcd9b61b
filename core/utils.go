package core

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// ResolutionTimeNA is returned when no record qualifies for an average
// resolution time.
const ResolutionTimeNA = "N/A"

// HumanizeResolutionTime renders an average resolution duration in whole or
// fractional days, switching to hours when under one day.
func HumanizeResolutionTime(d time.Duration) string {
	if d <= 0 {
		return ResolutionTimeNA
	}
	hours := d.Hours()
	if hours < 24 {
		return formatUnit(hours, "hour")
	}
	return formatUnit(hours/24, "day")
}

func formatUnit(val float64, unit string) string {
	val = math.Round(val*10) / 10
	s := strconv.FormatFloat(val, 'f', -1, 64)
	if s == "1" {
		return s + " " + unit
	}
	return s + " " + unit + "s"
}

// Getwd tries to find the project root.
// go-test changes the working directory to the test package being run during tests... this breaks our code...
// see: https://stackoverflow.com/questions/23847003/golang-tests-and-working-directory
// this is a temporary fix for now :(
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
