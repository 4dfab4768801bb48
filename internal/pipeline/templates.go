package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ContentEngine/internal/domain"
)

// Prompt templates per output format. Placeholders are substituted with
// ReplaceAll rather than fmt verbs so template text can contain percent
// signs freely.
const (
	topicLabelTemplate = `You are a content strategist. Given the following cluster of related content items, generate a concise topic label (5-10 words) that captures the core theme.

Content titles in this cluster:
{titles}

Representative content body:
{body}

Respond with ONLY the topic label, nothing else.`

	articleTemplate = `You are an expert content creator. Based on the trending topic below, create a compelling article outline and draft.

## Trending Topic
{topic_summary}

## Target Audience
{audience_description}

## Requirements
Create a complete article with:
1. **Title**: A compelling, SEO-friendly headline
2. **Hook**: Opening paragraph that grabs attention (2-3 sentences)
3. **Outline**: 5-7 main sections with key points for each
4. **Key Takeaways**: 3-5 bullet points summarizing the article
5. **CTA**: Call to action for the reader
6. **SEO Keywords**: 5-8 target keywords

Write in a professional yet conversational tone with actionable advice.
Format the output in Markdown.`

	shortVideoTemplate = `You are a viral short-form video scriptwriter.

## Trending Topic
{topic_summary}

## Target Audience
{audience_description}

## Requirements
Create a 60-second short video script (Shorts / TikTok / Reels):
1. **Title**: Catchy title
2. **Hook** (0-3s): Opening line that stops the scroll
3. **Problem** (3-10s): State the pain point clearly
4. **Solution** (10-45s): Deliver the main value in 3-5 punchy points
5. **CTA** (45-60s): Strong call to action
6. **On-screen text suggestions** per section
7. **Hashtags**: 10-15 relevant hashtags

Write in a high-energy, direct tone. Every sentence short and impactful.
Format the output in Markdown.`

	longVideoTemplate = `You are an expert YouTube content strategist.

## Trending Topic
{topic_summary}

## Target Audience
{audience_description}

## Requirements
Create a detailed 8-12 minute YouTube video script with:
1. **Title**: SEO-optimized title
2. **Description**: YouTube description with timestamps and keywords
3. **Tags**: 15-20 YouTube tags
4. **SCRIPT**: cold open / intro / context / 3-5 main sections with talking
   points and visual suggestions / common mistakes / action steps / outro
5. **Thumbnail Concepts**: 2-3 ideas with text overlay suggestions

Write in an engaging, educational tone with specific examples.
Format the output in Markdown.`

	imagePromptTemplate = `You are a visual content director.

## Trending Topic
{topic_summary}

## Target Audience
{audience_description}

## Requirements
Generate 5 AI image prompts for different use cases (thumbnail, blog
header, social post, infographic, carousel slide). For each provide:
1. **Use Case**
2. **Prompt**: detailed generation prompt (style, lighting, composition, mood)
3. **Negative Prompt**
4. **Aspect Ratio**
5. **Text Overlay Suggestion**

Clean, modern aesthetic; avoid stock photo cliches.
Format the output in Markdown.`

	socialPostTemplate = `You are a social media strategist.

## Trending Topic
{topic_summary}

## Target Audience
{audience_description}

## Requirements
Create social media posts for 4 platforms:
1. **Twitter/X Thread** (5-7 tweets): hook, value-packed tips, CTA
2. **LinkedIn Post**: professional tone, personal insight angle, hashtags,
   engagement question
3. **Facebook Group Post**: conversational, community-oriented, value upfront
4. **Instagram Carousel** (8-10 slides): title slide, one key point per
   slide, CTA slide, caption with hashtags

Format the output in Markdown.`
)

var formatTemplates = map[domain.FormatType]string{
	domain.FormatArticle:     articleTemplate,
	domain.FormatShortVideo:  shortVideoTemplate,
	domain.FormatLongVideo:   longVideoTemplate,
	domain.FormatImagePrompt: imagePromptTemplate,
	domain.FormatSocialPost:  socialPostTemplate,
}

// PromptFor renders the generation prompt for one (cluster, format) pair.
// Unknown formats fall back to the article template.
func PromptFor(format domain.FormatType, cluster domain.TopicCluster, audience domain.Audience) string {
	tmpl, ok := formatTemplates[format]
	if !ok {
		tmpl = articleTemplate
	}
	out := strings.ReplaceAll(tmpl, "{topic_summary}", ClusterSummary(cluster))
	out = strings.ReplaceAll(out, "{audience_description}", audienceDescription(audience))
	return out
}

// LabelPrompt renders the topic-label prompt for one cluster.
func LabelPrompt(cluster domain.TopicCluster) string {
	titles := make([]string, 0, len(cluster.TopTitles))
	for _, t := range cluster.TopTitles {
		titles = append(titles, "- "+t)
	}
	body := truncate(cluster.RepresentativeBody, 500)
	out := strings.ReplaceAll(topicLabelTemplate, "{titles}", strings.Join(titles, "\n"))
	out = strings.ReplaceAll(out, "{body}", body)
	return out
}

// ClusterSummary builds the topic digest embedded into generation prompts.
func ClusterSummary(cluster domain.TopicCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic Cluster #%d\n", cluster.ClusterIndex)
	fmt.Fprintf(&b, "Size: %d items | Sources: %s\n", cluster.Size, strings.Join(cluster.Sources, ", "))
	fmt.Fprintf(&b, "Total Engagement: %.0f\n", cluster.TotalEngagement)
	b.WriteString("Top content titles:\n")
	for i, title := range cluster.TopTitles {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, title)
	}
	if cluster.RepresentativeTitle != "" {
		body := cluster.RepresentativeBody
		if len(body) > 300 {
			body = truncate(body, 300) + "..."
		}
		b.WriteString("\nRepresentative content:\n")
		fmt.Fprintf(&b, "  Title: %s\n", cluster.RepresentativeTitle)
		fmt.Fprintf(&b, "  Body: %s\n", body)
	}
	return b.String()
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func audienceDescription(a domain.Audience) string {
	if a.Description == "" {
		return a.Name
	}
	return a.Name + ": " + a.Description
}
