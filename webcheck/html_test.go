package webcheck

import "testing"

func TestBalanceFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{
			name: "descriptions value widget",
			html: `<html><body><div class="semi-descriptions-value">$12.50</div></body></html>`,
			want: "$12.50",
			ok:   true,
		},
		{
			name: "label adjacent text",
			html: `<html><body><div>剩余额度: $3.7</div></body></html>`,
			want: "$3.7",
			ok:   true,
		},
		{
			name: "english label",
			html: `<html><body><span>Balance $1,234.56</span></body></html>`,
			want: "$1,234.56",
			ok:   true,
		},
		{
			name: "body wide sniff",
			html: `<html><body><p>You have $9 left this month.</p></body></html>`,
			want: "$9",
			ok:   true,
		},
		{
			name: "no dollar figure",
			html: `<html><body><div>nothing to see</div></body></html>`,
			ok:   false,
		},
		{
			name: "widget wins over body text",
			html: `<html><body><p>fee $99</p><div class="semi-statistic-value">$4.2</div></body></html>`,
			want: "$4.2",
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := balanceFromHTML(tt.html)
			if ok != tt.ok || got != tt.want {
				t.Errorf("balanceFromHTML = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPageTitle(t *testing.T) {
	if got := pageTitle(`<html><head><title> Console </title></head><body/></html>`); got != "Console" {
		t.Errorf("title = %q, want Console", got)
	}
	if got := pageTitle(`<html><body>no title</body></html>`); got != "" {
		t.Errorf("title = %q, want empty", got)
	}
}
