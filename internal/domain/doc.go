// Package domain models EPA Grants Reporting and Tracking System (GRTS)
// project data retrieved by watershed.
//
// # Data Source
//
// GRTS publishes Clean Water Act section 319 nonpoint-source projects through
// an ORDS REST endpoint keyed by 12-digit hydrologic unit code (HUC12):
//
//	GET https://ordspub.epa.gov/ords/grts_rest/grts_rest_apex/grts_rest_apex/GetProjectsByHUC12/<huc12>
//
// The input code list is generated from the Watershed Boundary Dataset. Around
// 2020 USGS realigned parts of HUC area 04 (notably the Lake Champlain
// drainage) and GRTS still answers to the pre-realignment codes, so upstream
// tooling appends the legacy codes to the list by hand. This package treats
// every row as an opaque code and never rewrites it.
//
// # Response Shape
//
// A response body is a JSON object whose "items" array holds one object per
// project. The field set belongs to GRTS and is not validated here; items are
// carried as plain maps so new upstream columns flow through untouched.
//
// # Dates
//
// "project_start_date" arrives as month/day/year text ("6/30/2014") and is
// frequently blank, null, or garbage ("13/45/2024"). The normalizer bounds it
// to [MinValidDate, today]:
//
//	unparseable        → MinValidDate
//	before MinValidDate → MinValidDate
//	after today        → today
//
// The untouched upstream value is kept under "project_start_date_text".
// The default MinValidDate, 1987-12-31, is the first year of the section 319
// program.
package domain
