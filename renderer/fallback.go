// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package renderer

import (
	"fmt"
	"html"
	"strings"

	"github.com/deveshjha247/Nirman/datatypes"
)

// FallbackTemplate builds a complete Tailwind HTML document from the spec
// alone. It is deterministic and never empty: any spec, including a nil
// or sectionless one, yields a renderable page.
func FallbackTemplate(spec *datatypes.SpecDoc) string {
	if spec == nil {
		spec = &datatypes.SpecDoc{AppName: "My App"}
	}
	name := spec.AppName
	if name == "" {
		name = "My App"
	}
	primary := spec.Colors.Primary
	if primary == "" {
		primary = "#6366f1"
	}
	secondary := spec.Colors.Secondary
	if secondary == "" {
		secondary = "#8b5cf6"
	}
	font := spec.Font
	if font == "" {
		font = "Inter"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s</title>
<script src="https://cdn.tailwindcss.com"></script>
<link href="https://fonts.googleapis.com/css2?family=%s:wght@400;600;800&display=swap" rel="stylesheet">
<style>body { font-family: '%s', sans-serif; }</style>
</head>
<body class="bg-white text-gray-900">
`, esc(name), esc(font), esc(font))

	writeNav(&b, name, primary)
	for _, sec := range spec.Sections {
		switch sec.Type {
		case "hero":
			writeHero(&b, name, sec, primary, secondary)
		case "features", "services", "courses", "menu", "products", "listings":
			writeFeatures(&b, sec)
		case "pricing":
			writePricing(&b, sec, primary)
		case "testimonials":
			writeTestimonials(&b, sec)
		case "cta", "contact":
			writeCTA(&b, name, sec, primary)
		case "footer":
			// Written once at the end regardless of position.
		default:
			writeGeneric(&b, sec)
		}
	}
	if len(spec.Sections) == 0 {
		writeHero(&b, name, datatypes.SpecSection{}, primary, secondary)
	}
	writeFooter(&b, name)

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func esc(s string) string {
	return html.EscapeString(s)
}

func headline(sec datatypes.SpecSection, fallback string) string {
	if sec.Headline != "" {
		return sec.Headline
	}
	return fallback
}

func writeNav(b *strings.Builder, name, primary string) {
	fmt.Fprintf(b, `<nav class="flex items-center justify-between px-8 py-4 shadow-sm">
<span class="text-xl font-extrabold" style="color:%s">%s</span>
<a href="#cta" class="rounded-lg px-4 py-2 text-white" style="background-color:%s">Get Started</a>
</nav>
`, esc(primary), esc(name), esc(primary))
}

func writeHero(b *strings.Builder, name string, sec datatypes.SpecSection, primary, secondary string) {
	fmt.Fprintf(b, `<section class="px-8 py-24 text-center" style="background:linear-gradient(135deg,%s22,%s22)">
<h1 class="mx-auto max-w-3xl text-5xl font-extrabold leading-tight">%s</h1>
<p class="mx-auto mt-6 max-w-xl text-lg text-gray-600">%s</p>
<a href="#cta" class="mt-8 inline-block rounded-lg px-6 py-3 text-white" style="background-color:%s">Get Started</a>
</section>
`, esc(primary), esc(secondary), esc(headline(sec, name)), esc(orDefault(sec.Subtext, "Everything you need, in one place.")), esc(primary))
}

func writeFeatures(b *strings.Builder, sec datatypes.SpecSection) {
	items := sec.Items
	if len(items) == 0 {
		items = []string{"Fast to set up", "Built to scale", "Loved by customers"}
	}
	fmt.Fprintf(b, `<section class="px-8 py-16">
<h2 class="text-center text-3xl font-bold">%s</h2>
<div class="mx-auto mt-10 grid max-w-5xl gap-8 md:grid-cols-3">
`, esc(headline(sec, sectionTitle(sec.Type))))
	for _, item := range items {
		fmt.Fprintf(b, `<div class="rounded-xl border p-6 shadow-sm"><p class="font-semibold">%s</p></div>
`, esc(item))
	}
	b.WriteString("</div>\n</section>\n")
}

func writePricing(b *strings.Builder, sec datatypes.SpecSection, primary string) {
	fmt.Fprintf(b, `<section class="bg-gray-50 px-8 py-16">
<h2 class="text-center text-3xl font-bold">%s</h2>
<div class="mx-auto mt-10 grid max-w-4xl gap-8 md:grid-cols-3">
`, esc(headline(sec, "Pricing")))
	for _, tier := range []struct {
		name  string
		price string
	}{{"Starter", "$0"}, {"Pro", "$29"}, {"Enterprise", "Custom"}} {
		fmt.Fprintf(b, `<div class="rounded-xl border bg-white p-8 text-center shadow-sm">
<p class="text-lg font-semibold">%s</p>
<p class="mt-2 text-4xl font-extrabold" style="color:%s">%s</p>
<p class="mt-1 text-sm text-gray-500">per month</p>
</div>
`, tier.name, esc(primary), tier.price)
	}
	b.WriteString("</div>\n</section>\n")
}

func writeTestimonials(b *strings.Builder, sec datatypes.SpecSection) {
	quotes := sec.Items
	if len(quotes) == 0 {
		quotes = []string{
			"This changed how we work. Highly recommended.",
			"Simple, fast, and exactly what we needed.",
		}
	}
	fmt.Fprintf(b, `<section class="px-8 py-16">
<h2 class="text-center text-3xl font-bold">%s</h2>
<div class="mx-auto mt-10 grid max-w-4xl gap-8 md:grid-cols-2">
`, esc(headline(sec, "What people say")))
	for _, quote := range quotes {
		fmt.Fprintf(b, `<blockquote class="rounded-xl border p-6 italic text-gray-600">"%s"</blockquote>
`, esc(quote))
	}
	b.WriteString("</div>\n</section>\n")
}

func writeCTA(b *strings.Builder, name string, sec datatypes.SpecSection, primary string) {
	fmt.Fprintf(b, `<section id="cta" class="px-8 py-20 text-center text-white" style="background-color:%s">
<h2 class="text-3xl font-bold">%s</h2>
<p class="mt-3 opacity-90">%s</p>
<a href="#" class="mt-6 inline-block rounded-lg bg-white px-6 py-3 font-semibold" style="color:%s">Start now</a>
</section>
`, esc(primary), esc(headline(sec, "Ready to try "+name+"?")), esc(orDefault(sec.Subtext, "Join today, no credit card required.")), esc(primary))
}

func writeGeneric(b *strings.Builder, sec datatypes.SpecSection) {
	fmt.Fprintf(b, `<section class="px-8 py-16">
<h2 class="text-center text-3xl font-bold">%s</h2>
`, esc(headline(sec, sectionTitle(sec.Type))))
	if sec.Subtext != "" {
		fmt.Fprintf(b, `<p class="mx-auto mt-4 max-w-2xl text-center text-gray-600">%s</p>
`, esc(sec.Subtext))
	}
	b.WriteString("</section>\n")
}

func writeFooter(b *strings.Builder, name string) {
	fmt.Fprintf(b, `<footer class="border-t px-8 py-10 text-center text-sm text-gray-500">
<p>&copy; %s. All rights reserved.</p>
</footer>
`, esc(name))
}

func sectionTitle(sectionType string) string {
	if sectionType == "" {
		return "More"
	}
	cleaned := strings.ReplaceAll(sectionType, "_", " ")
	return strings.ToUpper(cleaned[:1]) + cleaned[1:]
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
