package driver

// structureJS serializes the page's visible interactive elements: tag,
// trimmed text, key attributes, a best-effort stable selector, and the
// bounding box, sorted top-to-bottom then left-to-right.
const structureJS = `(() => {
	const selectors = [
		'a[href]', 'button', 'input', 'textarea', 'select',
		'[role="button"]', '[onclick]', '[tabindex]', 'form',
		'[class*="button"]', '[class*="btn"]', '[class*="search"]',
		'[class*="submit"]', '[class*="login"]', '[class*="sign"]',
		'[type="submit"]', '[type="button"]', 'label'
	];
	const seen = new Set();
	const out = [];

	const bestSelector = (el) => {
		if (el.id) return '#' + el.id;
		if (el.name) return '[name="' + el.name + '"]';
		const aria = el.getAttribute('aria-label');
		if (aria) return '[aria-label="' + aria + '"]';
		const tag = el.tagName.toLowerCase();
		const parent = el.parentNode;
		if (parent) {
			const siblings = Array.from(parent.children).filter(s => s.tagName === el.tagName);
			return tag + ':nth-child(' + (siblings.indexOf(el) + 1) + ')';
		}
		return tag;
	};

	selectors.forEach(sel => {
		document.querySelectorAll(sel).forEach(el => {
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			const visible = rect.width > 0 && rect.height > 0 &&
				style.visibility !== 'hidden' && style.display !== 'none';
			if (!visible) return;
			const key = el.outerHTML;
			if (seen.has(key)) return;
			seen.add(key);
			const text = (el.textContent || '').trim().replace(/\s+/g, ' ');
			out.push({
				tag: el.tagName.toLowerCase(),
				text: text.substring(0, 100),
				type: el.type || '',
				placeholder: el.placeholder || '',
				aria_label: el.getAttribute('aria-label') || '',
				title: el.title || '',
				name: el.name || '',
				id: el.id || '',
				href: el.href || '',
				selector: bestSelector(el),
				box: {
					x: Math.round(rect.x), y: Math.round(rect.y),
					width: Math.round(rect.width), height: Math.round(rect.height)
				}
			});
		});
	});
	return out.sort((a, b) => {
		if (Math.abs(a.box.y - b.box.y) > 50) return a.box.y - b.box.y;
		return a.box.x - b.box.x;
	});
})()`

// markJS overlays numbered set-of-marks markers on in-viewport interactive
// elements and returns the marked elements in marker order. Labels count
// from 1: the box labeled N is the N-th returned element, so answers can
// use 0 as the no-match sentinel. The marker class is keyed so clearMarksJS
// can remove exactly what was injected.
const markJS = `((maxMarkers) => {
	const selectors = [
		'button', 'a[href]', 'input', 'textarea', 'select',
		'[role="button"]', '[onclick]', '[tabindex]'
	];
	const elements = new Set();
	selectors.forEach(sel => {
		document.querySelectorAll(sel).forEach(el => elements.add(el));
	});

	const bestSelector = (el) => {
		if (el.id) return '#' + el.id;
		if (el.name) return '[name="' + el.name + '"]';
		const tag = el.tagName.toLowerCase();
		const siblings = Array.from(el.parentNode ? el.parentNode.children : [])
			.filter(s => s.tagName === el.tagName);
		return tag + ':nth-child(' + (siblings.indexOf(el) + 1) + ')';
	};

	const out = [];
	let index = 0;
	elements.forEach(el => {
		if (index >= maxMarkers) return;
		const rect = el.getBoundingClientRect();
		const visible = rect.width > 0 && rect.height > 0 &&
			window.getComputedStyle(el).visibility !== 'hidden';
		if (!visible || rect.top >= window.innerHeight || rect.left >= window.innerWidth) return;

		const marker = document.createElement('div');
		marker.className = 'som-marker';
		marker.style.cssText = 'position:fixed;left:' + rect.left + 'px;top:' + rect.top +
			'px;width:' + rect.width + 'px;height:' + rect.height +
			'px;background:rgba(255,0,0,0.3);border:2px solid red;color:white;' +
			'font-weight:bold;font-size:16px;z-index:999999;pointer-events:none;' +
			'display:flex;align-items:center;justify-content:center;';
		marker.textContent = index + 1;
		document.body.appendChild(marker);

		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.textContent || '').trim().substring(0, 50),
			type: el.type || '',
			placeholder: el.placeholder || '',
			aria_label: el.getAttribute('aria-label') || '',
			id: el.id || '',
			selector: bestSelector(el),
			box: {
				x: Math.round(rect.x), y: Math.round(rect.y),
				width: Math.round(rect.width), height: Math.round(rect.height)
			}
		});
		index++;
	});
	return out;
})`

const clearMarksJS = `(() => {
	document.querySelectorAll('.som-marker').forEach(el => el.remove());
	return true;
})()`
